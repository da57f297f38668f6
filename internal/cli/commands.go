package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/synap-respond/internal/participant"
)

func parseSurveyID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("survey id must be a positive integer, got %q", s)
	}
	return id, nil
}

// parseAnswer reads JSON literals (numbers, booleans, arrays, quoted
// strings) and treats anything else as a plain string.
func parseAnswer(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case string, float64, bool, []any:
			return v
		}
	}
	return raw
}

func newStartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <survey> <total-questions>",
		Short: "Open or resume an attempt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			total, err := strconv.Atoi(args[1])
			if err != nil || total <= 0 {
				return fmt.Errorf("total questions must be a positive integer, got %q", args[1])
			}
			return withFlow(opts, cmd, func(e *env) error {
				s, err := e.flow.Start(cmd.Context(), id, total)
				if err != nil {
					return err
				}
				st := e.flow.Status(id)
				return e.out.emit(st, "survey %d started, session expires %s", id, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
			})
		},
	}
}

func newAnswerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <survey> <question> <value>",
		Short: "Record an answer locally",
		Long: `Record an answer locally. The value is read as JSON when it parses
(42, true, ["a","b"]) and as a plain string otherwise.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			return withFlow(opts, cmd, func(e *env) error {
				if !e.flow.Answer(id, args[1], parseAnswer(args[2])) {
					return fmt.Errorf("survey %d has no open attempt; run start first", id)
				}
				return e.out.emit(e.flow.Status(id), "saved answer for %s", args[1])
			})
		},
	}
}

func newMoveCommand(opts *RootOptions, use, short string, move func(*participant.Flow, int) bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <survey>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			return withFlow(opts, cmd, func(e *env) error {
				move(e.flow, id)
				st := e.flow.Status(id)
				if st.Progress == nil {
					return fmt.Errorf("survey %d has no open attempt; run start first", id)
				}
				return e.out.emit(st, "question %d of %d", st.Progress.CurrentQuestionIndex+1, st.Progress.TotalQuestions)
			})
		},
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <survey>",
		Short: "Show what this device knows about a survey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			return withFlow(opts, cmd, func(e *env) error {
				st := e.flow.Status(id)
				var b strings.Builder
				fmt.Fprintf(&b, "survey %d: ", id)
				switch {
				case st.Completed:
					b.WriteString("completed")
				case st.Progress != nil:
					fmt.Fprintf(&b, "in progress, question %d of %d, %.0f%% answered",
						st.Progress.CurrentQuestionIndex+1, st.Progress.TotalQuestions, st.Ratio*100)
				default:
					b.WriteString("not started")
				}
				fmt.Fprintf(&b, ", session %s", st.SessionState)
				return e.out.emit(st, "%s", b.String())
			})
		},
	}
}

func newSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <survey>",
		Short: "Submit every recorded answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			return withFlow(opts, cmd, func(e *env) error {
				res, err := e.flow.Submit(cmd.Context(), id)
				if errors.Is(err, participant.ErrNoSession) {
					return fmt.Errorf("%w; run start again to open a new session", err)
				}
				if err != nil && res == nil {
					return err
				}
				if err != nil {
					// responses were stored; only the completion call failed
					cmd.PrintErrln("warning:", err)
				}
				return e.out.emit(res, "submitted survey %d (response %s)", id, res.ResponseID)
			})
		},
	}
}

func newCleanupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Forget completion records past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlow(opts, cmd, func(e *env) error {
				n := e.flow.Cleanup()
				return e.out.emit(map[string]int{"removed": n}, "removed %d expired completion records", n)
			})
		},
	}
}

func newResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <survey>",
		Short: "Forget everything stored locally for a survey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSurveyID(args[0])
			if err != nil {
				return err
			}
			return withFlow(opts, cmd, func(e *env) error {
				e.flow.Reset(id)
				return e.out.emit(map[string]int{"reset": id}, "survey %d reset", id)
			})
		},
	}
}
