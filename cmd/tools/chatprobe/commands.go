package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/app"
	"github.com/zhouzirui/persona-counsel/backend/internal/config"
	"github.com/zhouzirui/persona-counsel/backend/internal/logging"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/moderation"
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message through the full pipeline and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var promptCmd = &cobra.Command{
	Use:   "prompt [message]",
	Short: "Print the system instruction and composed prompt without calling a model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPrompt,
}

var moderateCmd = &cobra.Command{
	Use:   "moderate [message]",
	Short: "Show the moderation decision for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModerate,
}

func buildApp(ctx context.Context, forceMock bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if forceMock {
		cfg.Generation.Provider = config.ProviderMock
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)))
}

func parseEnums() (persona.Category, persona.Mode, error) {
	c, ok := persona.ParseCategory(category)
	if !ok {
		return "", "", fmt.Errorf("unknown category %q", category)
	}
	m, ok := persona.ParseMode(mode)
	if !ok {
		return "", "", fmt.Errorf("unknown mode %q", mode)
	}
	return c, m, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	c, m, err := parseEnums()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	a, err := buildApp(ctx, useMock)
	if err != nil {
		return err
	}
	defer a.Close()

	started := time.Now()
	resp, err := a.Orchestrator.SendMessage(ctx, nil, chat.Request{
		Message:   strings.Join(args, " "),
		PersonaID: personaID,
		Category:  c,
		Mode:      m,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "elapsed: %s\n", time.Since(started).Round(time.Millisecond))
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	c, m, err := parseEnums()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Personas.FindByID(ctx, personaID)
	if err != nil {
		return err
	}

	var answers *personality.AnswerSet
	if set, err := a.Answers.GetByPersonaID(ctx, personaID); err == nil {
		answers = &set
	}

	var custom []persona.CustomPrompt
	if p.ResponseCustomization.EnableCustomization {
		custom = p.ResponseCustomization.CustomPrompts
	}

	fmt.Println("===== system instruction =====")
	fmt.Println(ai.NewPromptAssembler(a.Catalog).BuildSystemInstruction(p, answers))
	fmt.Println("===== user prompt =====")
	fmt.Println(ai.NewComposer().Compose(strings.Join(args, " "), c, m, custom))
	return nil
}

func runModerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Personas.FindByID(ctx, personaID)
	if err != nil {
		return err
	}

	d := moderation.NewGate().Evaluate(strings.Join(args, " "), p)
	if !d.Blocked {
		fmt.Println("PASS")
		return nil
	}
	fmt.Printf("BLOCKED rule=%s match=%q\n%s\n", d.Rule, d.Match, d.Text)
	return nil
}
