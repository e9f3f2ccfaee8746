// WorkTrail CLI - inspect and edit tracked time
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/quantumlife/worktrail/internal/config"
	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/identity"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/platform"
	"github.com/quantumlife/worktrail/internal/storage"
)

var (
	dataDir string
	devMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wt",
		Short: "WorkTrail - where did the time go?",
		Long: `wt inspects the activity records kept by worktraild.

Records are read straight from the data directory. Edits made here are
seen by a running daemon on its next read.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.worktrail)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "read an unencrypted development store")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(consolidateCmd())
	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := ""
	if dataDir != "" {
		path = config.Path(dataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if devMode {
		cfg.DevMode = true
		cfg.Store.Encrypt = false
	}
	return cfg, nil
}

// withStore opens the store for the duration of fn.
func withStore(fn func(*storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: logging.WARN, Output: os.Stderr})

	var sealer storage.Sealer
	if cfg.Store.Encrypt {
		cipher, err := identity.NewManager(cfg.DataDir, nil, logger).Cipher()
		if err != nil {
			return fmt.Errorf("data key: %w", err)
		}
		sealer = cipher
	}
	store, err := storage.OpenStore(storage.Options{
		Dir:           cfg.DataDir,
		Sealer:        sealer,
		MaxActivities: cfg.Store.MaxActivities,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// statusCmd probes the running daemon
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether worktraild is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st, err := probeDaemon(cfg.Ingress.Addr(), 2*time.Second)
			if err != nil {
				fmt.Fprintln(out, "❌ worktraild is not reachable")
				fmt.Fprintf(out, "   %v\n", err)
				return fmt.Errorf("daemon not running")
			}

			fmt.Fprintln(out, "📊 WorkTrail Status")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "   Daemon: %s (v%s)\n", st.Status, st.Version)
			if st.Tracking {
				fmt.Fprintln(out, "   Tracking: on")
			} else {
				fmt.Fprintln(out, "   Tracking: off")
			}
			fmt.Fprintf(out, "   Ingress: http://%s\n", cfg.Ingress.Addr())
			fmt.Fprintf(out, "   Data: %s\n", cfg.DataDir)
			return nil
		},
	}
}

type daemonStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Tracking bool   `json:"tracking"`
}

func probeDaemon(addr string, timeout time.Duration) (*daemonStatus, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return nil, fmt.Errorf("nothing listening on %s", addr)
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status probe returned %s", resp.Status)
	}
	var st daemonStatus
	if err := sonic.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("unexpected status reply: %w", err)
	}
	return &st, nil
}

// listCmd prints a day's activities
func listCmd() *cobra.Command {
	var date, project string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := core.Date(date)
			if day == "" {
				day = platform.LocalDate(time.Now(), time.Local)
			} else if _, err := platform.ParseDate(day, time.Local); err != nil {
				return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
			}
			return withStore(func(s *storage.Store) error {
				list, err := s.Activities.List(core.ActivityFilter{Date: day, Project: project, Limit: limit})
				if err != nil {
					return err
				}
				printActivities(cmd.OutOrStdout(), day, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to list (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&project, "project", "", "only this project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records")
	return cmd
}

func printActivities(out io.Writer, day core.Date, list []*core.Activity) {
	if len(list) == 0 {
		fmt.Fprintf(out, "No activities on %s.\n", day)
		return
	}

	var total int64
	perProject := map[string]int64{}
	t := newTable("START", "DURATION", "APP", "PROJECT", "TICKETS", "TITLE")
	for _, a := range list {
		total += a.Duration
		perProject[a.Project] += a.Duration
		app := a.App
		if a.IsManual {
			app += " ✎"
		}
		t.add(
			a.StartTime.Local().Format("15:04"),
			formatDuration(a.Duration),
			app,
			a.Project,
			strings.Join(a.Tickets, ","),
			a.Title,
		)
	}

	fmt.Fprintf(out, "🕒 %s - %d activities, %s total\n\n", day, len(list), formatDuration(total))
	t.render(out)

	projects := make([]string, 0, len(perProject))
	for p := range perProject {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return perProject[projects[i]] > perProject[projects[j]] })
	fmt.Fprintln(out)
	for _, p := range projects {
		fmt.Fprintf(out, "   %-24s %s\n", p, formatDuration(perProject[p]))
	}
}

// consolidateCmd runs the on-demand consolidation pass
func consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge adjacent records and drop duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *storage.Store) error {
				n, err := s.Activities.Consolidate()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Consolidated %d activities\n", n)
				return nil
			})
		},
	}
}

// mappingCmd edits the project mapping tables
func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage project mappings",
	}

	var value core.MappingValue
	setCmd := &cobra.Command{
		Use:   "set <project|url|jira|meeting> <pattern> <project>",
		Short: "Add or replace a mapping",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := core.ParseMappingKind(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownMapping, args[0])
			}
			value.Project = args[2]
			return withStore(func(s *storage.Store) error {
				if err := s.Mappings.Set(kind, args[1], value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ %s mapping %q → %s\n", kind, args[1], value.Project)
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&value.Activity, "activity", "", "activity type")
	setCmd.Flags().StringVar(&value.SAPCode, "sap-code", "", "SAP code")
	setCmd.Flags().StringVar(&value.CostCenter, "cost-center", "", "cost center")
	setCmd.Flags().StringVar(&value.WBSElement, "wbs", "", "WBS element")

	removeCmd := &cobra.Command{
		Use:   "remove <project|url|jira|meeting> <pattern>",
		Short: "Remove a mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := core.ParseMappingKind(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownMapping, args[0])
			}
			return withStore(func(s *storage.Store) error {
				removed, err := s.Mappings.Remove(kind, args[1])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s mapping for %q - %s\n", kind, args[1], core.ErrNothingToDo)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed %s mapping %q\n", kind, args[1])
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show all mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *storage.Store) error {
				tables, err := s.Mappings.Tables()
				if err != nil {
					return err
				}
				t := newTable("KIND", "PATTERN", "PROJECT", "DETAILS")
				for _, kind := range []core.MappingKind{core.MappingProject, core.MappingURL, core.MappingJira, core.MappingMeeting} {
					table := tables.Table(kind)
					for _, pattern := range table.SortedPatterns() {
						v := table[pattern]
						t.add(string(kind), pattern, v.Project, mappingDetails(v))
					}
				}
				if len(t.rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No mappings yet.")
					return nil
				}
				t.render(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.AddCommand(setCmd, removeCmd, listCmd)
	return cmd
}

func mappingDetails(v core.MappingValue) string {
	if v.IsBare() {
		return ""
	}
	var parts []string
	for _, kv := range [][2]string{{"activity", v.Activity}, {"sap", v.SAPCode}, {"cc", v.CostCenter}, {"wbs", v.WBSElement}} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(parts, " ")
}

// settingsCmd shows the tracking settings
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Tracking settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *storage.Store) error {
				data, err := sonic.ConfigStd.MarshalIndent(s.Settings.Current(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	})
	return cmd
}

// versionCmd shows version info
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "WorkTrail %s\n", core.Version)
			fmt.Fprintln(cmd.OutOrStdout(), "Automatic time tracking for the desktop")
		},
	}
}
