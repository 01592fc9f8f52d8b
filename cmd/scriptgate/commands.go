package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"scriptgate/internal/chat"
	"scriptgate/internal/config"
	"scriptgate/internal/domain"
	"scriptgate/internal/gateway"
	"scriptgate/internal/runner"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the route table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r := runner.FromConfig(cfg, logger)
			rows := [][]string{}
			for _, rt := range gateway.TableFromConfig(cfg).Routes() {
				timeout := ""
				if rt.Timeout > 0 {
					timeout = rt.Timeout.String()
				}
				target := rt.Target
				if target != "" && !r.Available(target) {
					target += " (unavailable)"
				}
				rows = append(rows, []string{rt.Method, rt.Path, rt.Kind, target, strings.Join(rt.Required, ", "), timeout})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Method", "Path", "Kind", "Target", "Required", "Timeout"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func invokeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "invoke <target> [json]",
		Short: "Run a target once with a JSON payload",
		Long:  "Runs a registered target with the given JSON object (or stdin when omitted or '-') and prints its output.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var payload []byte
			if len(args) == 2 && args[1] != "-" {
				payload = []byte(args[1])
			} else {
				payload, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			if timeout <= 0 {
				timeout = targetTimeout(cfg, args[0])
			}

			r := runner.FromConfig(cfg, logger)
			res := r.Run(context.Background(), runner.Request{
				Target:   args[0],
				Payload:  payload,
				Deadline: timeout,
			})
			success, ok := res.(runner.Success)
			if !ok {
				return fmt.Errorf("%s: %v", args[0], res)
			}
			var pretty strings.Builder
			var v any
			if err := json.Unmarshal(success.Payload, &v); err == nil {
				data, _ := json.MarshalIndent(v, "", "  ")
				pretty.Write(data)
			} else {
				pretty.Write(success.Payload)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "invocation deadline (default: the route timeout for this target, or 60s)")
	return cmd
}

// targetTimeout returns the timeout of the first script route using target.
func targetTimeout(cfg *config.Config, target string) time.Duration {
	for _, r := range cfg.Routes {
		if r.Kind == config.RouteScript && r.Target == target && r.TimeoutSeconds > 0 {
			return time.Duration(r.TimeoutSeconds) * time.Second
		}
	}
	return 60 * time.Second
}

func classifyCmd() *cobra.Command {
	var (
		page    string
		reply   string
		history []string
	)
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Show the detected industry and booking decision for a message",
		Long: `Runs the industry classifier and booking heuristic without calling a
text generation provider. History turns are given as role:content pairs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns := make([]domain.Turn, 0, len(history))
			for _, h := range history {
				role, content, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("history entry %q: expected role:content", h)
				}
				turns = append(turns, domain.Turn{Role: strings.TrimSpace(role), Content: strings.TrimSpace(content)})
			}

			pageCtx := domain.PageContext{PageType: page}
			industry := chat.Classify(args[0], turns, pageCtx.EffectivePageType())
			offer := chat.ShouldOfferBooking(args[0], reply)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "industry: %s\n", industry)
			fmt.Fprintf(out, "booking:  %s\n", strconv.FormatBool(offer))
			if len(turns) == 0 && page != "" {
				fmt.Fprintf(out, "greeting: %s\n", chat.DefaultGreetings().For(page))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "page type the conversation started on")
	cmd.Flags().StringVar(&reply, "reply", "", "assistant reply to test the booking heuristic against")
	cmd.Flags().StringArrayVar(&history, "history", nil, "prior turn as role:content (repeatable)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. chat.provider or routes.3.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. chat.provider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = config.Defaults()
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
