package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forPelevin/hlreel/internal/pipeline"
	"github.com/forPelevin/hlreel/internal/types"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Build one highlight reel from a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.String("out", "out", "Output directory")
	f.Int("duration", types.DefaultTargetSeconds, "Target reel length in seconds")
	f.String("type", string(types.TypeStory), "Highlight type: story, reel, short, action")
	f.String("style", string(types.StyleDynamic), "Style: dynamic, minimal, elegant, cinematic")
	f.String("prompt", "", "Describe what to find")
	f.Float64("example-start", 0, "Start of an example range in seconds")
	f.Float64("example-end", 0, "End of an example range in seconds")
	f.String("example-text", "", "Fallback description of the example range")
	f.String("instructions", "", "Extra instructions for the scorer")
	f.Float64("padding", types.DefaultContextPadding, "Context padding before each segment in seconds")
	f.Bool("no-text", false, "Do not burn captions")
	f.Bool("music", false, "Mix in the music bed from HLREEL_MUSIC")
	f.Bool("no-cost-optimize", false, "Spend the full sampling budget")
	f.String("tuning", "", "YAML file overriding engine tuning")
	return cmd
}

func run(cmd *cobra.Command, input string) error {
	outDir, _ := cmd.Flags().GetString("out")
	tuning, _ := cmd.Flags().GetString("tuning")

	log := newLogger(true)
	cfg, err := engineConfig(log)
	if err != nil {
		return err
	}
	cfg.OutDir = outDir
	if tuning != "" {
		cfg.TuningPath = tuning
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absIn); err != nil {
		return fmt.Errorf("config: stat input: %w", err)
	}
	req, err := requestFromFlags(cmd, absIn)
	if err != nil {
		return err
	}

	store, err := pipeline.OpenStore(storeDSN(), log)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer store.Close()

	engine, err := pipeline.New(cfg, store)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, resultPath, err := engine.RunOnce(ctx, req)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	log.Info().Str("result", resultPath).Msg("done")

	if res.Status != types.StatusSucceeded {
		msg := string(res.Status)
		if res.Error != nil {
			msg = res.Error.Code + ": " + res.Error.Message
		}
		return fmt.Errorf("job %s %s", res.JobID, msg)
	}
	return nil
}

func requestFromFlags(cmd *cobra.Command, mediaID string) (types.Request, error) {
	f := cmd.Flags()
	duration, _ := f.GetInt("duration")
	kind, _ := f.GetString("type")
	style, _ := f.GetString("style")
	prompt, _ := f.GetString("prompt")
	instructions, _ := f.GetString("instructions")
	padding, _ := f.GetFloat64("padding")
	noText, _ := f.GetBool("no-text")
	music, _ := f.GetBool("music")
	noOptimize, _ := f.GetBool("no-cost-optimize")

	includeText := !noText
	costOptimize := !noOptimize
	req := types.Request{
		MediaID:        mediaID,
		Duration:       duration,
		HighlightType:  types.HighlightType(kind),
		Style:          types.Style(style),
		IncludeText:    &includeText,
		IncludeMusic:   music,
		ContextPadding: &padding,
		CostOptimize:   &costOptimize,
	}
	if prompt != "" {
		req.Prompt = &prompt
	}
	if instructions != "" {
		req.ContentInstructions = &instructions
	}
	if f.Changed("example-start") || f.Changed("example-end") {
		start, _ := f.GetFloat64("example-start")
		end, _ := f.GetFloat64("example-end")
		text, _ := f.GetString("example-text")
		req.Example = &types.Example{StartTime: start, EndTime: end, Description: text}
	}
	if _, err := req.Normalize(); err != nil {
		return types.Request{}, fmt.Errorf("request: %w", err)
	}
	return req, nil
}
