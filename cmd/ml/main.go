package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meetline/internal/app"
	"meetline/internal/calendar"
	"meetline/internal/config"
	"meetline/internal/db"
	"meetline/internal/domain"
	"meetline/internal/engine"
	"meetline/internal/migrate"
	"meetline/internal/repo"
	"meetline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Meetline CLI",
	Long: `Meetline finds a meeting time a group will actually show up to.
Core concepts:
- Workspace: the .meetline directory next to meetline.yml holding the database.
- Group: the people you keep trying to meet with; members are accounts, contacts are plain emails.
- Plan: a standing intent to meet once, with a search window and a quorum.
- Run: one booked attempt; invitees accept or decline until the deadline.
- Sync: polls the calendar, secures a plan once quorum is reached, and rebooks
  expired attempts at the next best slot until attempts run out.
- Preferences and history: tag weights and past responses steer which slot gets picked.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("MEETLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "acting user id or email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(meetingsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", cfgPath, db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userUseCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:          uuid.NewString(),
					Email:       strings.ToLower(strings.TrimSpace(email)),
					DisplayName: name,
					CreatedAt:   time.Now().UTC(),
				}
				if u.Email == "" {
					return fmt.Errorf("--email required")
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(users)
			})
		},
	}
	return cmd
}

func userUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id-or-email>",
		Short: "Set the acting user for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := strings.TrimSpace(args[0])
			if value == "" {
				return fmt.Errorf("user id or email is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "MEETLINE_USER", value); err != nil {
				return err
			}
			fmt.Printf("Set MEETLINE_USER=%s in %s/.env\n", value, workspace)
			return nil
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
		Long:  "Groups hold the people a plan invites. Members are registered accounts with calendars; contacts are plain email invitees.",
	}
	group.AddCommand(groupCreateCmd())
	group.AddCommand(groupListCmd())
	group.AddCommand(groupAddMemberCmd())
	group.AddCommand(groupAddContactCmd())
	group.AddCommand(groupMembersCmd())
	return group
}

func groupCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				g := domain.Group{
					ID:        uuid.NewString(),
					OwnerID:   u.ID,
					Name:      strings.TrimSpace(name),
					CreatedAt: time.Now().UTC(),
				}
				if g.Name == "" {
					return fmt.Errorf("--name required")
				}
				if err := r.InsertGroup(ctx, g); err != nil {
					return err
				}
				if err := r.AddGroupMember(ctx, g.ID, u.ID, g.CreatedAt.Format(time.RFC3339)); err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "group name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func groupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				groups, err := r.ListGroupsForOwner(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(groups)
			})
		},
	}
	return cmd
}

func groupAddMemberCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "add-member <group-id>",
		Short: "Add a registered user to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := args[0]
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				group, err := r.GetGroup(ctx, groupID)
				if err != nil {
					return err
				}
				if group.OwnerID != u.ID {
					return fmt.Errorf("only the group owner can add members")
				}
				member, err := r.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
				if err != nil {
					return err
				}
				if err := r.AddGroupMember(ctx, group.ID, member.ID, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				return printJSONOrTable(member)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "member email (must be registered)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func groupAddContactCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "add-contact <group-id>",
		Short: "Add an outside contact to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := args[0]
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				group, err := r.GetGroup(ctx, groupID)
				if err != nil {
					return err
				}
				if group.OwnerID != u.ID {
					return fmt.Errorf("only the group owner can add contacts")
				}
				c := domain.Contact{
					ID:          uuid.NewString(),
					OwnerID:     u.ID,
					GroupID:     group.ID,
					Email:       strings.ToLower(strings.TrimSpace(email)),
					DisplayName: name,
					CreatedAt:   time.Now().UTC(),
				}
				if c.Email == "" {
					return fmt.Errorf("--email required")
				}
				if linked, err := r.GetUserByEmail(ctx, c.Email); err == nil {
					c.UserID = &linked.ID
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				if err := r.InsertContact(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func groupMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members <group-id>",
		Short: "List group members and contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := args[0]
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				group, err := r.GetGroup(ctx, groupID)
				if err != nil {
					return err
				}
				members, err := r.ListGroupMemberUsers(ctx, groupID)
				if err != nil {
					return err
				}
				contacts, err := r.ListContactsForGroup(ctx, group.OwnerID, groupID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"members": members, "contacts": contacts})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Email", "Kind", "Name"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.Email, "member", m.DisplayName})
				}
				for _, c := range contacts {
					tw.AppendRow(table.Row{c.Email, "contact", c.DisplayName})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func prefsCmd() *cobra.Command {
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Manage scheduling preferences",
		Long:  "Tag weights in [-1, 1] nudge slot scoring: plan tags, person:<owner> and slot:<day>_<bucket> buckets.",
	}
	prefs.AddCommand(prefsSetCmd())
	prefs.AddCommand(prefsListCmd())
	return prefs
}

func prefsSetCmd() *cobra.Command {
	var tag string
	var weight float64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a tag weight",
		RunE: func(cmd *cobra.Command, args []string) error {
			if weight < -1 || weight > 1 {
				return fmt.Errorf("--weight must be between -1 and 1")
			}
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				tag = strings.TrimSpace(tag)
				if tag == "" {
					return fmt.Errorf("--tag required")
				}
				if err := r.UpsertTagPreference(ctx, u.ID, tag, weight); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"tag": tag, "weight": weight})
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "tag name")
	cmd.Flags().Float64Var(&weight, "weight", 0, "weight in [-1, 1]")
	_ = cmd.MarkFlagRequired("tag")
	_ = cmd.MarkFlagRequired("weight")
	return cmd
}

func prefsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tag weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				prefs, err := r.GetTagPreferences(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(prefs)
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Manage meeting plans",
		Long:  "A plan keeps trying to book one meeting: each attempt is a run, and sync advances runs until quorum or attempts run out.",
	}
	plan.AddCommand(planCreateCmd())
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planPauseCmd())
	plan.AddCommand(planResumeCmd())
	return plan
}

func planCreateCmd() *cobra.Command {
	var opts engine.PlanCreateOptions
	var tags []string
	var windowStart, windowEnd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan and book its first run",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, windowStart)
			if err != nil {
				return fmt.Errorf("--window-start: %w", err)
			}
			end, err := time.Parse(time.RFC3339, windowEnd)
			if err != nil {
				return fmt.Errorf("--window-end: %w", err)
			}
			opts.WindowStart = start
			opts.WindowEnd = end
			opts.Tags = tags
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				opts.OwnerID = u.ID
				res, err := e.CreatePlanWithInitialRun(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.GroupID, "group", "", "group id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "meeting title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "plan tag (repeatable)")
	cmd.Flags().IntVar(&opts.DurationMinutes, "duration", 0, "duration minutes (default from config)")
	cmd.Flags().IntVar(&opts.MinAccepted, "min-accepted", 0, "quorum (default from config)")
	cmd.Flags().IntVar(&opts.ResponseWindowHours, "response-window", 0, "response window hours (default from config)")
	cmd.Flags().IntVar(&opts.SlotIntervalMinutes, "interval", 0, "slot interval minutes (default from config)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempt cap (default from config)")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "search window start (RFC3339)")
	cmd.Flags().StringVar(&windowEnd, "window-end", "", "search window end (RFC3339)")
	cmd.Flags().StringVar(&opts.CalendarID, "calendar", "", "calendar id (default from config)")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("window-start")
	_ = cmd.MarkFlagRequired("window-end")
	return cmd
}

func planListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans with their latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				summaries, err := e.ListPlans(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summaries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Attempt", "Starts", "Accepted"})
				for _, s := range summaries {
					attempt, starts, accepted := "", "", ""
					if s.LatestRun != nil {
						attempt = fmt.Sprintf("%d/%d", s.LatestRun.Attempt, s.Plan.MaxAttempts)
						starts = s.LatestRun.StartsAt.Format(time.RFC3339)
						accepted = fmt.Sprintf("%d/%d", s.LatestRun.AcceptedCount, s.Plan.MinAccepted)
					}
					tw.AppendRow(table.Row{s.Plan.ID, s.Plan.Title, s.Plan.Status, attempt, starts, accepted})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan and its latest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				plan, err := e.Repo.GetPlan(ctx, id)
				if err != nil {
					return err
				}
				if plan.OwnerID != u.ID {
					return fmt.Errorf("plan not found")
				}
				summary := domain.PlanSummary{Plan: plan}
				if plan.LatestRunID != nil {
					if run, err := e.Repo.GetRun(ctx, *plan.LatestRunID); err == nil {
						summary.LatestRun = &run
					}
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func planPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a plan and cancel its pending run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				if err := e.PausePlan(ctx, u.ID, id); err != nil {
					return err
				}
				plan, err := e.Repo.GetPlan(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
	return cmd
}

func planResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused plan and book the next attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				res, err := e.ResumePlan(ctx, u.ID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Poll responses and advance all pending runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				res, err := e.SyncForUser(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Checked %d run(s): %d secured, %d expired, %d rescheduled, %d exhausted\n",
					res.Checked, res.Secured, res.Expired, res.Rescheduled, res.Exhausted)
				return nil
			})
		},
	}
	return cmd
}

func meetingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "List booked meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				events, err := r.ListMeetingEventsForOwner(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Starts", "Ends", "Location", "Plan"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.Title, ev.StartsAt.Format(time.RFC3339), ev.EndsAt.Format(time.RFC3339), ev.Location, ev.PlanID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <group-id>",
		Short: "Show response history per group member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID := args[0]
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				stats, err := r.ListMemberStats(ctx, u.ID, groupID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Email", "Accepted", "Declined", "No response", "Last"})
				for _, s := range stats {
					tw.AppendRow(table.Row{s.Email, s.AcceptCount, s.DeclineCount, s.NoResponseCount, s.LastResponse})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func calendarCmd() *cobra.Command {
	cal := &cobra.Command{
		Use:   "calendar",
		Short: "Calendar provider setup",
	}
	cal.AddCommand(calendarAuthCmd())
	return cal
}

func calendarAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar access for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cfg.Calendar.Provider != "google" {
				return fmt.Errorf("calendar.provider is %q; set it to google in %s", cfg.Calendar.Provider, config.Path(workspace))
			}
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				g, ok := app.Provider(cfg, workspace, nil).(*calendar.Google)
				if !ok {
					return fmt.Errorf("google provider not configured")
				}
				oauthCfg, err := g.OAuthConfig()
				if err != nil {
					return err
				}
				url := oauthCfg.AuthCodeURL("state-token")
				fmt.Printf("Open this URL, authorize access, and paste the code:\n%s\n> ", url)
				reader := bufio.NewReader(os.Stdin)
				code, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				tok, err := oauthCfg.Exchange(ctx, strings.TrimSpace(code))
				if err != nil {
					return fmt.Errorf("exchange code: %w", err)
				}
				if err := g.SaveToken(u.ID, tok); err != nil {
					return err
				}
				fmt.Printf("Saved calendar token for %s\n", u.Email)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserRepo(cmd.Context(), func(ctx context.Context, r repo.Repo, u domain.User) error {
				events, err := r.LatestEvents(ctx, n, u.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("MEETLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("set server.jwt_secret in %s or MEETLINE_JWT_SECRET", config.Path(workspace))
			}
			provider := app.Provider(cfg, workspace, nil)
			e := engine.New(conn, cfg, provider)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, EnableDevLogin: devLogin},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Meetline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	u, err := app.ResolveUser(ctx, viper.GetString("user"), r)
	if err != nil {
		return err
	}
	provider := app.Provider(cfg, workspace, nil)
	e := engine.New(conn, cfg, provider)
	return fn(ctx, e, u)
}

func withUserRepo(ctx context.Context, fn func(context.Context, repo.Repo, domain.User) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		u, err := app.ResolveUser(ctx, viper.GetString("user"), r)
		if err != nil {
			return err
		}
		return fn(ctx, r, u)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
