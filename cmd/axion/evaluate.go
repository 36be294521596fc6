package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/input"
	"github.com/HolyFlex-tecjh/axion/internal/app"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

var (
	evalContent     string
	evalUser        string
	evalGuild       string
	evalChannel     string
	evalChannelType string
	evalRoles       []string
	evalRepeat      int
	evalReplay      string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a single message or replay an event log",
	Long: `Run messages through the moderation pipeline without starting the
service and print each decision as JSON.

Examples:
  axion evaluate --content "FREE NITRO discord.gg/abc" --user 42
  axion evaluate --content "buy now" --repeat 6
  axion evaluate --replay events.jsonl`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalContent, "content", "c", "", "message content")
	evaluateCmd.Flags().StringVar(&evalUser, "user", "1", "author user ID")
	evaluateCmd.Flags().StringVar(&evalGuild, "guild", "1", "guild ID")
	evaluateCmd.Flags().StringVar(&evalChannel, "channel", "1", "channel ID")
	evaluateCmd.Flags().StringVar(&evalChannelType, "channel-type", "text", "channel type (text, voice, announcement, thread, forum, dm)")
	evaluateCmd.Flags().StringSliceVar(&evalRoles, "roles", nil, "author role names")
	evaluateCmd.Flags().IntVarP(&evalRepeat, "repeat", "n", 1, "send the message this many times")
	evaluateCmd.Flags().StringVar(&evalReplay, "replay", "", "replay a JSON lines event log instead")
}

// replayResult is one line of evaluate output.
type replayResult struct {
	Kind     domain.EventKind           `json:"kind"`
	Decision *domain.ModerationDecision `json:"decision,omitempty"`
	Join     *domain.JoinAssessment     `json:"join,omitempty"`
	Pattern  *domain.CoordinatedPattern `json:"pattern,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging("warn", true)

	moderator, err := app.NewModerator(cfg)
	if err != nil {
		return fmt.Errorf("building moderator: %w", err)
	}
	defer moderator.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)

	if evalReplay != "" {
		return replay(ctx, moderator, enc)
	}
	if strings.TrimSpace(evalContent) == "" {
		return fmt.Errorf("--content or --replay is required")
	}

	var channelType domain.ChannelType
	if err := channelType.UnmarshalText([]byte(evalChannelType)); err != nil {
		return err
	}

	n := max(evalRepeat, 1)
	for i := 0; i < n; i++ {
		mctx := &domain.ModerationContext{
			UserID:      evalUser,
			GuildID:     evalGuild,
			ChannelID:   evalChannel,
			MessageID:   fmt.Sprintf("cli-%d", i+1),
			Content:     evalContent,
			ChannelType: channelType,
			Roles:       evalRoles,
			Timestamp:   time.Now(),
		}
		decision := moderator.Evaluate(ctx, mctx)
		if err := enc.Encode(replayResult{Kind: domain.EventMessage, Decision: &decision}); err != nil {
			return err
		}
	}
	return nil
}

// replay feeds every event of a log through the moderator in file order.
func replay(ctx context.Context, moderator *app.Moderator, enc *json.Encoder) error {
	if _, err := os.Stat(evalReplay); err != nil {
		return err
	}

	tailer := input.NewFileTailer(evalReplay, nil, 1024)
	tailer.SetFollow(false)
	events, errs := tailer.Start(ctx)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				lines, parseErrors, skipped := tailer.Stats()
				fmt.Fprintf(os.Stderr, "replayed %d lines (%d invalid, %d skipped)\n", lines, parseErrors, skipped)
				return nil
			}
			err := enc.Encode(evaluateEvent(ctx, moderator, ev))
			domain.ReleasePlatformEvent(ev)
			if err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Str("file", evalReplay).Msg("Replay read error")
		}
	}
}

func evaluateEvent(ctx context.Context, moderator *app.Moderator, ev *domain.PlatformEvent) replayResult {
	res := replayResult{Kind: ev.Kind}
	switch ev.Kind {
	case domain.EventJoin:
		assessment := moderator.RecordJoin(ev.JoinEvent())
		res.Join = &assessment
	case domain.EventReaction:
		res.Pattern = moderator.RecordReaction(ev.ReactionEvent())
	default:
		decision := moderator.Evaluate(ctx, ev.ModerationContext())
		res.Decision = &decision
	}
	return res
}
