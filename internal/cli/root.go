// Package cli implements skinsightctl, an operator tool that drives the same
// orchestrator as the HTTP server without going through it.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skinsight/skinsight/internal/orchestrator"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/pkg/server"
)

// ErrFailed is returned when a request ends in the failed state, so the
// process exits non-zero.
var ErrFailed = errors.New("request failed")

// NewRootCmd wires the cobra root command around core.
func NewRootCmd(core *server.Core) *cobra.Command {
	root := &cobra.Command{
		Use:           "skinsightctl",
		Short:         "SkinSight operator CLI",
		Long:          "skinsightctl classifies images, generates advice and inspects providers using the server's configuration.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newClassifyCommand(core))
	root.AddCommand(newAdviseCommand(core))
	root.AddCommand(newProvidersCommand(core))
	return root
}

func newClassifyCommand(core *server.Core) *cobra.Command {
	var (
		imagePath string
		req       orchestrator.ClassificationRequest
		asJSON    bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "classify --image FILE",
		Short: "Classify a skin image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if imagePath == "" {
				return fmt.Errorf("--image is required")
			}
			img, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			req.Image = img
			req.Filename = imagePath

			ctx, cancel := withTimeout(cmd, timeout)
			defer cancel()

			out := core.Orchestrator.Classify(ctx, req)
			if asJSON {
				writeJSON(cmd.OutOrStdout(), out)
			} else {
				renderClassification(cmd.OutOrStdout(), out)
			}
			if out.State == orchestrator.StateFailed {
				return fmt.Errorf("%w: %v", ErrFailed, out.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Path to the image file")
	cmd.Flags().StringVar(&req.Symptoms, "symptoms", "", "Reported symptoms")
	cmd.Flags().StringVar(&req.Duration, "duration", "", "How long the condition has been present")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "Severity hint")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free-text notes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw outcome as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall request timeout")
	return cmd
}

func newAdviseCommand(core *server.Core) *cobra.Command {
	var (
		req        orchestrator.AdviceRequest
		confidence float64
		asJSON     bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "advise --condition NAME",
		Short: "Generate advice for a condition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("confidence") {
				req.Confidence = &confidence
			}

			ctx, cancel := withTimeout(cmd, timeout)
			defer cancel()

			out := core.Orchestrator.Advise(ctx, req)
			if asJSON {
				writeJSON(cmd.OutOrStdout(), out)
			} else {
				renderAdvice(cmd.OutOrStdout(), out)
			}
			if out.State == orchestrator.StateFailed {
				return fmt.Errorf("%w: %v", ErrFailed, out.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Condition, "condition", "c", "", "Condition name")
	cmd.Flags().StringVar(&req.Symptoms, "symptoms", "", "Reported symptoms")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "Severity")
	cmd.Flags().StringVar(&req.Duration, "duration", "", "Duration")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Model confidence (fraction or percentage)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw outcome as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall request timeout")
	return cmd
}

func newProvidersCommand(core *server.Core) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Probe and list configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tENDPOINT\tCREDENTIAL\tHEALTH")
			for _, t := range core.Router.Targets() {
				d := t.Descriptor
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.Endpoint, credential(d), healthState(cmd, core, d))
			}
			return tw.Flush()
		},
	}
}

func credential(d provider.Descriptor) string {
	switch {
	case d.HasCredential():
		return "set"
	case d.RequiresCredential:
		return "missing"
	default:
		return "-"
	}
}

func healthState(cmd *cobra.Command, core *server.Core, d provider.Descriptor) string {
	if !d.RequiresHealth {
		return "not probed"
	}
	if core.Health.IsAvailable(cmd.Context(), d.Name) {
		return "up"
	}
	return "down"
}

// ── Rendering ───────────────────────────────────────────────

func renderClassification(w io.Writer, out *orchestrator.ClassificationOutcome) {
	fmt.Fprintf(w, "request:    %s\n", out.RequestID)
	fmt.Fprintf(w, "state:      %s\n", out.State)
	if out.Provider != "" {
		fmt.Fprintf(w, "provider:   %s\n", out.Provider)
	}
	if res := out.Result; res != nil {
		fmt.Fprintf(w, "label:      %s\n", res.RawLabel)
		fmt.Fprintf(w, "confidence: %.1f%%\n", res.Confidence*100)
		fmt.Fprintf(w, "verdict:    %s\n", res.Verdict)
		if res.Severity != "" {
			fmt.Fprintf(w, "severity:   %s\n", res.Severity)
		}
	}
	if out.Message != "" {
		fmt.Fprintf(w, "message:    %s\n", out.Message)
	}
	renderError(w, out.Err)
}

func renderAdvice(w io.Writer, out *orchestrator.AdviceOutcome) {
	if out.Success() {
		fmt.Fprintln(w, out.Text)
		fmt.Fprintf(w, "\n(provider %s, %d ms, request %s)\n", out.Provider, out.GenerationTime.Milliseconds(), out.RequestID)
		return
	}
	fmt.Fprintf(w, "request: %s\nstate:   %s\n", out.RequestID, out.State)
	renderError(w, out.Err)
}

func renderError(w io.Writer, e *orchestrator.Error) {
	if e == nil {
		return
	}
	fmt.Fprintf(w, "error:      %s: %s\n", e.Kind, e.Message)
	for _, a := range e.Attempts {
		fmt.Fprintf(w, "  attempt   %s: %s\n", a.Provider, a.Kind)
	}
	for _, s := range e.Skipped {
		fmt.Fprintf(w, "  skipped   %s: %s\n", s.Provider, s.Reason)
	}
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
