package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/orchestrator"
	"github.com/theakshaypant/studysync/internal/service"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the calendar connection",
	RunE:  runStatus,
}

var syncCmd = &cobra.Command{
	Use:   "sync [session-id...]",
	Short: "Push study sessions to the connected calendar",
	Long: `Create or update calendar events for study sessions.

Examples:
  studysync sync --plan 6f1c...        # every session of a plan
  studysync sync 0b7e...,9a21...       # specific sessions`,
	RunE: runSync,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report sessions whose calendar events were moved or deleted",
	RunE:  runCheck,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete calendar events left behind by deleted sessions",
	Long: `Scan the study calendar for events created by studysync whose session
no longer exists, such as events left after an interrupted plan deletion,
and delete them. Events you created yourself are never touched.`,
	RunE: runCleanup,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect [google|microsoft]",
	Short: "Forget stored calendar credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDisconnect,
}

var availabilityCmd = &cobra.Command{
	Use:     "availability",
	Aliases: []string{"free"},
	Short:   "Show busy and free time per day",
	Long: `Show busy and free time per day inside working hours.

Examples:
  studysync availability --from monday --to friday
  studysync free --days mon,wed,fri --work 09:00-17:00 --min 90m`,
	RunE: runAvailability,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage study plans",
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a plan, its sessions and their calendar events",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanDelete,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage study sessions",
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id...>",
	Short: "Delete sessions and their calendar events",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(availabilityCmd)
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	syncCmd.Flags().String("plan", "", "Sync every session of this plan")

	availabilityCmd.Flags().String("from", "today", "First day (YYYY-MM-DD, 'today', 'monday', etc.)")
	availabilityCmd.Flags().String("to", "", "Last day (default: six days after --from)")
	availabilityCmd.Flags().String("days", "", "Weekdays to include, e.g. mon,tue or 1,2 (default: all)")
	availabilityCmd.Flags().String("work", "", "Working hours as HH:MM-HH:MM (default 08:00-22:00)")
	availabilityCmd.Flags().String("tz", "", "IANA timezone (default: platform.default_timezone)")
	availabilityCmd.Flags().Duration("min", 0, "Only list free slots at least this long")
}

// explain appends the remedy of a classified error so the terminal shows
// the same guidance the API returns.
func explain(err error) error {
	var e *errs.Error
	if !errors.As(err, &e) || len(e.Remedy) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(err.Error())
	b.WriteString("\n\nTo fix this:")
	for i, step := range e.Remedy {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, step)
	}
	return errors.New(b.String())
}

func runStatus(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.svc.GetStatus(cmd.Context(), userID)
	if err != nil {
		return explain(err)
	}
	if !st.IsConnected {
		fmt.Println("⚪ No calendar connected. Run 'studysync connect google' or 'studysync connect microsoft'.")
		return nil
	}

	fmt.Printf("🟢 Connected to %s", st.Provider)
	if st.CalendarEmail != "" {
		fmt.Printf(" as %s", st.CalendarEmail)
	}
	fmt.Println()
	switch {
	case !st.IsExpired:
		fmt.Println("   Access token valid")
	case st.CanRefresh:
		fmt.Println("   Access token expired, will refresh on next use")
	default:
		fmt.Println("   ⚠️  Access token expired and cannot be refreshed; reconnect")
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if raw, _ := cmd.Flags().GetString("plan"); raw != "" {
		planIDs, err := parseIDs([]string{raw})
		if err != nil {
			return err
		}
		sessions, err := a.sessions.ListByPlan(cmd.Context(), planIDs[0])
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if s.UserID == userID {
				ids = append(ids, s.ID)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("nothing to sync: pass session ids or --plan")
	}

	fmt.Printf("⏳ Syncing %d sessions...\n", len(ids))
	res, err := a.svc.SyncSessions(cmd.Context(), userID, ids)
	if err != nil {
		return explain(err)
	}
	printSyncResult(res)
	return nil
}

func printSyncResult(res orchestrator.SyncResult) {
	fmt.Printf("✅ %d synced", res.Synced)
	if res.Failed > 0 {
		fmt.Printf(", ❌ %d failed", res.Failed)
	}
	fmt.Println()
	for _, e := range res.Errors {
		fmt.Println("   •", e)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.CheckChanges(cmd.Context(), userID)
	if err != nil {
		return explain(err)
	}
	printDriftReport(report)
	return nil
}

func printDriftReport(r service.DriftReport) {
	if len(r.Changes) == 0 {
		fmt.Println("✅ Calendar matches your study plan.")
		if r.OrphansRemoved > 0 {
			fmt.Printf("   Cleaned up %d stale calendar entries.\n", r.OrphansRemoved)
		}
		return
	}

	fmt.Printf("⚠️  %d deleted, %d moved\n", r.DeletedSessions, r.ModifiedSessions)
	fmt.Println("─────────────────────────────────────────────────")
	for _, c := range r.Changes {
		when := c.EventTime.Local().Format("Mon Jan 2 15:04")
		switch c.Type {
		case service.DeletedEvent:
			fmt.Printf("🗑  %-28s %s  event deleted\n", c.SessionTitle, when)
		case service.ModifiedEvent:
			moved := ""
			if c.RemoteStart != nil {
				moved = c.RemoteStart.Local().Format("Mon Jan 2 15:04")
			}
			fmt.Printf("↔  %-28s %s  now %s\n", c.SessionTitle, when, moved)
		}
		fmt.Printf("   %s\n", c.SessionID)
	}
	fmt.Println("─────────────────────────────────────────────────")
	if r.OrphansRemoved > 0 {
		fmt.Printf("Cleaned up %d stale calendar entries.\n", r.OrphansRemoved)
	}
	fmt.Println("Run 'studysync review' to accept or undo each change.")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.CleanupRemoteOrphans(cmd.Context(), userID)
	if err != nil {
		return explain(err)
	}
	printCleanupResult(res)
	return nil
}

func printCleanupResult(res orchestrator.CleanupResult) {
	if res.OrphansFound == 0 {
		fmt.Printf("✅ No orphaned events among %d studysync events\n", res.Scanned)
		return
	}
	fmt.Printf("🧹 Deleted %d of %d orphaned events\n", res.Deleted, res.OrphansFound)
	for _, sf := range res.SoftFailures {
		fmt.Printf("   ⚠️  %s\n", sf)
	}
	for _, e := range res.Errors {
		fmt.Printf("   ❌ %s\n", e)
	}
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	var p core.ProviderName
	if len(args) == 1 {
		var ok bool
		if p, ok = core.ParseProvider(args[0]); !ok {
			return fmt.Errorf("unknown provider: %s (supported: google, microsoft)", args[0])
		}
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.DisconnectCalendar(cmd.Context(), userID, p)
	if err != nil {
		return explain(err)
	}
	fmt.Printf("✅ Removed %d stored connection(s)\n", n)
	return nil
}

func runAvailability(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	q, err := availabilityFromFlags(cmd, time.Now())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if minDur, _ := cmd.Flags().GetDuration("min"); minDur > 0 {
		slots, err := a.svc.FindFreeSlots(cmd.Context(), userID, q, minDur)
		if err != nil {
			return explain(err)
		}
		if len(slots) == 0 {
			fmt.Printf("No free slots of %s or more.\n", minDur)
			return nil
		}
		for _, s := range slots {
			fmt.Printf("%s  %s  (%dm)\n", s.Date, formatBlock(s.Block), s.Block.Minutes())
		}
		return nil
	}

	days, err := a.svc.GetAvailability(cmd.Context(), userID, q)
	if err != nil {
		return explain(err)
	}
	for _, d := range days {
		fmt.Printf("📅 %s %s  busy %dm, free %dm\n", d.Date, d.Weekday.String()[:3], d.TotalBusyMinutes, d.TotalFreeMinutes)
		for _, b := range d.FreeBlocks {
			fmt.Printf("   free %s\n", formatBlock(b))
		}
	}
	return nil
}

func availabilityFromFlags(cmd *cobra.Command, now time.Time) (service.AvailabilityQuery, error) {
	var q service.AvailabilityQuery
	var err error

	from, _ := cmd.Flags().GetString("from")
	if q.Start, err = parseDate(from, now); err != nil {
		return q, err
	}
	q.End = q.Start.AddDate(0, 0, 6)
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		if q.End, err = parseDate(to, now); err != nil {
			return q, err
		}
	}

	days, _ := cmd.Flags().GetString("days")
	if q.Weekdays, err = parseWeekdays(days); err != nil {
		return q, err
	}
	if work, _ := cmd.Flags().GetString("work"); work != "" {
		if q.WorkingHours, err = parseWorkHours(work); err != nil {
			return q, err
		}
	}
	q.Timezone, _ = cmd.Flags().GetString("tz")
	return q, nil
}

// parseWorkHours reads "HH:MM-HH:MM".
func parseWorkHours(s string) (core.TimeBlock, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return core.TimeBlock{}, fmt.Errorf("working hours must look like 09:00-17:00, got %q", s)
	}
	st, err := time.Parse("15:04", strings.TrimSpace(start))
	if err != nil {
		return core.TimeBlock{}, fmt.Errorf("working hours start: %w", err)
	}
	en, err := time.Parse("15:04", strings.TrimSpace(end))
	if err != nil {
		return core.TimeBlock{}, fmt.Errorf("working hours end: %w", err)
	}
	b := core.TimeBlock{StartHour: st.Hour(), StartMinute: st.Minute(), EndHour: en.Hour(), EndMinute: en.Minute()}
	if b.Minutes() <= 0 {
		return core.TimeBlock{}, fmt.Errorf("working hours end before they start: %q", s)
	}
	return b, nil
}

func formatBlock(b core.TimeBlock) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", b.StartHour, b.StartMinute, b.EndHour, b.EndMinute)
}

func runPlanDelete(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.DeletePlan(cmd.Context(), userID, ids[0])
	if err != nil {
		return explain(err)
	}
	printDeleteResult(res)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.DeleteSessions(cmd.Context(), userID, ids)
	if err != nil {
		return explain(err)
	}
	printDeleteResult(res)
	return nil
}

func printDeleteResult(res orchestrator.DeleteResult) {
	fmt.Printf("✅ Deleted %d sessions and %d calendar events\n", res.DeletedSessions, res.DeletedRemoteEvents)
	for _, sf := range res.SoftFailures {
		fmt.Printf("   ⚠️  %s\n", sf)
	}
}
