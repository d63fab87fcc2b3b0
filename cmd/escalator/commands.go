package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/escalator/internal/config"
	"github.com/kalambet/escalator/internal/console"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
	"github.com/kalambet/escalator/internal/state"
)

// --- requests ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List help requests",
	Long: `List help requests, newest first.

Examples:
  escalator list
  escalator list --status pending`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		status, err := parseStatusFlag(statusFlag)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		reqs, err := client.List(cmd.Context(), status)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(reqs) == 0 {
			fmt.Fprintln(out, "No help requests found.")
			return nil
		}
		for _, r := range reqs {
			printRequestLine(out, r)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "only show requests with this status (pending, resolved, unresolved)")
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single help request as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req, err := client.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), req)
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <id>",
	Short: "Answer a help request or defer it for follow-up",
	Long: `Answer a help request or defer it for follow-up.

Examples:
  escalator respond req-123 --answer "We open at 9am on Sundays." --topic Hours
  escalator respond req-123 --unresolved --follow-up 45 --notes "Checking with the owner"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answer, _ := cmd.Flags().GetString("answer")
		topic, _ := cmd.Flags().GetString("topic")
		notes, _ := cmd.Flags().GetString("notes")
		unresolved, _ := cmd.Flags().GetBool("unresolved")

		if !unresolved && strings.TrimSpace(answer) == "" {
			return fmt.Errorf("--answer is required unless --unresolved is set")
		}

		resp := lifecycle.Response{
			Answer:     answer,
			Topic:      topic,
			Notes:      notes,
			Unresolved: unresolved,
		}
		if unresolved && cmd.Flags().Changed("follow-up") {
			minutes, _ := cmd.Flags().GetInt("follow-up")
			resp.FollowUpMinutes = &minutes
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req, err := client.SubmitResponse(cmd.Context(), args[0], resp)
		if err != nil {
			return err
		}

		if req.Status == model.StatusUnresolved {
			if req.FollowUpAt != nil {
				printWarning("%s deferred, follow-up due %s", req.ID, req.FollowUpAt.Local().Format(time.Kitchen))
			} else {
				printWarning("%s deferred for follow-up", req.ID)
			}
			return nil
		}
		printSuccess("Answered %s (%s)", req.CustomerName, req.ID)
		return nil
	},
}

func init() {
	respondCmd.Flags().String("answer", "", "answer to send to the customer")
	respondCmd.Flags().String("topic", "", "knowledge base topic for the answer")
	respondCmd.Flags().String("notes", "", "internal supervisor notes")
	respondCmd.Flags().Bool("unresolved", false, "defer the request instead of answering it")
	respondCmd.Flags().Int("follow-up", 0, "minutes until the customer is followed up (with --unresolved)")
}

var timeoutCmd = &cobra.Command{
	Use:   "timeout <id>",
	Short: "Mark a pending request as timed out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req, err := client.MarkTimeout(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printWarning("Marked %s as unresolved after timeout", req.ID)
		return nil
	},
}

// --- agent ---

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Escalate a customer question to a supervisor",
	Long: `Escalate a customer question to a supervisor.

Examples:
  escalator escalate --name "Ana Ruiz" --contact "+1 555 0100" --channel sms --question "Do you do balayage?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		in, err := newRequestFromFlags(cmd, question)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req, err := client.Escalate(cmd.Context(), in)
		if err != nil {
			return err
		}
		printSuccess("Escalated %s for %s", req.ID, req.CustomerName)
		fmt.Fprintln(cmd.OutOrStdout(), req.ID)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask as the agent: answer from the knowledge base or escalate",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := newRequestFromFlags(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		res, err := client.Ask(cmd.Context(), in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if res.Answered {
			fmt.Fprintln(out, res.Answer)
			return nil
		}
		id := ""
		if res.Request != nil {
			id = res.Request.ID
		}
		fmt.Fprintln(out, lifecycle.MsgAcknowledgement)
		printWarning("No stored answer, escalated as %s", id)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{escalateCmd, askCmd} {
		c.Flags().String("name", "", "customer name")
		c.Flags().String("contact", "", "customer contact (phone or email)")
		c.Flags().String("channel", "", "channel the question arrived on (phone, sms, other)")
	}
	escalateCmd.Flags().String("question", "", "the customer's question")
}

func newRequestFromFlags(cmd *cobra.Command, question string) (lifecycle.NewRequest, error) {
	name, _ := cmd.Flags().GetString("name")
	contact, _ := cmd.Flags().GetString("contact")
	channel, _ := cmd.Flags().GetString("channel")

	if strings.TrimSpace(question) == "" {
		return lifecycle.NewRequest{}, fmt.Errorf("--question is required")
	}
	return lifecycle.NewRequest{
		CustomerName:    name,
		CustomerContact: contact,
		Channel:         model.ParseChannel(channel),
		Question:        question,
	}, nil
}

// --- knowledge ---

var suggestCmd = &cobra.Command{
	Use:   "suggest <id>",
	Short: "Draft a reply for a request from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sug, found, err := client.Suggest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			printWarning("The knowledge base is empty, nothing to suggest")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, sug.PersonalizedAnswer)
		fmt.Fprintf(out, "\n%s %s (from %s, score %d)\n", colorize(colorBold, "Based on:"), sug.Topic, sug.SourceRequestID, sug.Score)
		if !sug.Confident {
			printWarning("No knowledge entry matched the question, showing the newest answer")
		}
		return nil
	},
}

var kbCmd = &cobra.Command{
	Use:   "kb [query]",
	Short: "List or search learned answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var entries []model.KnowledgeEntry
		if query == "" {
			entries, err = client.ListKnowledgeBase(cmd.Context())
		} else {
			entries, err = client.SearchKnowledge(cmd.Context(), query)
		}
		if err != nil {
			return err
		}

		printKnowledge(cmd.OutOrStdout(), entries)
		return nil
	},
}

// --- follow-ups ---

var followUpsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Manage follow-up reminders",
}

var followUpsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send reminders for every overdue follow-up",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		n, err := client.DispatchFollowUps(cmd.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			printStatus("Follow-ups", "none due")
			return nil
		}
		printSuccess("Sent %d reminder(s)", n)
		return nil
	},
}

func init() {
	followUpsCmd.AddCommand(followUpsDispatchCmd)
}

// --- console ---

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Show the supervisor console",
	Long: `Show the supervisor console: status counts, the request queue, the
selected request with its suggested reply, learned answers and recent
activity.

Examples:
  escalator console
  escalator console --filter unresolved --search parking
  escalator console --select req-123 --kb-view all --watch 30s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctrl := console.New(client, state.New(console.NewInitialState()), console.Options{})
		return runConsole(cmd.Context(), cmd, ctrl)
	},
}

func init() {
	consoleCmd.Flags().String("filter", console.FilterAll, "request filter (all, pending, unresolved, resolved)")
	consoleCmd.Flags().String("search", "", "search customer names, questions and ids")
	consoleCmd.Flags().String("select", "", "request to focus (default: newest)")
	consoleCmd.Flags().String("kb-view", console.KBViewSelection, "knowledge view (selection, all)")
	consoleCmd.Flags().String("kb-search", "", "search learned answers")
	consoleCmd.Flags().Duration("watch", 0, "re-sync on this interval until interrupted")
}

func runConsole(ctx context.Context, cmd *cobra.Command, ctrl *console.Controller) error {
	if ctx == nil {
		ctx = context.Background()
	}
	filter, _ := cmd.Flags().GetString("filter")
	search, _ := cmd.Flags().GetString("search")
	selected, _ := cmd.Flags().GetString("select")
	kbView, _ := cmd.Flags().GetString("kb-view")
	kbSearch, _ := cmd.Flags().GetString("kb-search")
	watch, _ := cmd.Flags().GetDuration("watch")

	if err := ctrl.Bootstrap(ctx); err != nil {
		return err
	}
	if err := ctrl.SetFilter(filter); err != nil {
		return err
	}
	if err := ctrl.SetKBView(kbView); err != nil {
		return err
	}
	ctrl.SetSearch(search)
	ctrl.SetKBSearch(kbSearch)
	if selected != "" {
		ctrl.Select(selected)
	}

	out := cmd.OutOrStdout()
	r := &consoleRenderer{out: out, ctrl: ctrl}
	unsubscribe := ctrl.Store().Subscribe("cli", r.render)
	defer unsubscribe()

	if watch <= 0 {
		return nil
	}

	ticker := time.NewTicker(watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ctrl.Refresh(ctx); err != nil {
				printError("sync failed: %v", err)
			}
		}
	}
}

// consoleRenderer redraws the console once per settled change: after the
// first load and whenever a new activity entry lands.
type consoleRenderer struct {
	out      io.Writer
	ctrl     *console.Controller
	rendered bool
	lastHead string
}

func (r *consoleRenderer) render(snap state.Snapshot) {
	if !snap.Ready || snap.Busy {
		return
	}
	head := ""
	if len(snap.Activity) > 0 {
		head = snap.Activity[0].ID
	}
	if r.rendered && head == r.lastHead {
		return
	}
	r.rendered = true
	r.lastHead = head

	renderSnapshot(r.out, snap, r.ctrl)
}

func renderSnapshot(out io.Writer, snap state.Snapshot, ctrl *console.Controller) {
	counts := console.CountRequests(snap.Requests)
	fmt.Fprintf(out, "%s  %s  %s  %s\n",
		colorize(colorBold, "Supervisor console"),
		colorize(colorYellow, fmt.Sprintf("%d pending", counts.Pending)),
		colorize(colorRed, fmt.Sprintf("%d need follow-up", counts.Unresolved)),
		colorize(colorGreen, fmt.Sprintf("%d resolved", counts.Resolved)),
	)

	fmt.Fprintf(out, "\n%s (filter: %s", colorize(colorBold, "Requests"), snap.RequestFilter)
	if snap.RequestSearch != "" {
		fmt.Fprintf(out, ", search: %q", snap.RequestSearch)
	}
	fmt.Fprintln(out, ")")
	visible := console.VisibleRequests(snap)
	if len(visible) == 0 {
		fmt.Fprintln(out, "  No matching requests.")
	}
	for _, r := range visible {
		marker := " "
		if r.ID == snap.SelectedRequestID {
			marker = ">"
		}
		fmt.Fprint(out, marker)
		printRequestLine(out, r)
	}

	if sel, ok := console.SelectedRequest(snap); ok {
		fmt.Fprintf(out, "\n%s %s (%s, %s)\n", colorize(colorBold, "Selected:"), sel.ID, sel.CustomerName, sel.Channel)
		fmt.Fprintf(out, "  Q: %s\n", sel.Question)
		if sel.Answer != "" {
			fmt.Fprintf(out, "  A: %s\n", sel.Answer)
		}
		if sel.Status != model.StatusResolved {
			if sug, ok := ctrl.Suggestion(); ok {
				fmt.Fprintf(out, "  Suggested: %s\n", sug.PersonalizedAnswer)
			}
		}
	}

	fmt.Fprintf(out, "\n%s (%s)\n", colorize(colorBold, "Knowledge base"), snap.KBViewMode)
	printKnowledge(out, console.VisibleKnowledge(snap))

	fmt.Fprintf(out, "\n%s\n", colorize(colorBold, "Activity"))
	for i, a := range snap.Activity {
		if i == 10 {
			break
		}
		fmt.Fprintf(out, "  %s  %s\n", a.Timestamp.Local().Format("15:04"), colorize(toneColor(a.Tone), a.Message))
	}
}

func toneColor(t state.Tone) string {
	switch t {
	case state.ToneSuccess:
		return colorGreen
	case state.ToneWarn:
		return colorYellow
	case state.ToneError:
		return colorRed
	}
	return colorCyan
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- helpers ---

func parseStatusFlag(s string) (model.Status, error) {
	if s == "" || s == console.FilterAll {
		return "", nil
	}
	status := model.Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q (want pending, resolved or unresolved)", s)
	}
	return status, nil
}

func printRequestLine(out io.Writer, r model.HelpRequest) {
	fmt.Fprintf(out, "%s  %-10s  %-16s  %s\n",
		colorize(colorCyan, r.ID),
		colorize(statusColor(string(r.Status)), string(r.Status)),
		truncate(r.CustomerName, 16),
		truncate(r.Question, 80),
	)
}

func printKnowledge(out io.Writer, entries []model.KnowledgeEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "  No learned answers yet.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "  %s  %s\n", colorize(colorBold, "["+e.Topic+"]"), e.Question)
		fmt.Fprintf(out, "      %s\n", truncate(e.Answer, 200))
	}
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
