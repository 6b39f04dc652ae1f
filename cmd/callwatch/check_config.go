package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"callwatch/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			cmd.PrintErrf("warning: %v\n", err)
		}
		out, err := yaml.Marshal(summary(cfg.Redacted()))
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func summary(c config.Config) map[string]any {
	return map[string]any{
		"login_url":           c.LoginURL,
		"call_url":            c.CallURL,
		"base_url":            c.BaseURL,
		"recording_path":      c.RecordingPath,
		"max_errors":          c.MaxErrors,
		"check_interval":      c.CheckInterval.String(),
		"refresh_pattern":     c.RefreshPattern,
		"table_selector":      c.TableSelector,
		"download_dir":        c.DownloadDir,
		"min_recording_bytes": c.MinRecordingBytes,
		"workers":             c.WorkerCount,
		"job_queue_size":      c.JobQueueSize,
		"job_timeout":         c.JobTimeout.String(),
		"bot_token":           c.BotToken,
		"admin_chat_id":       c.AdminChatID,
		"group_chat_id":       c.GroupChatID,
		"cookies_json":        c.CookiesJSON,
		"cookies_file":        c.CookiesFile,
		"login_email":         c.LoginEmail,
		"login_password":      c.LoginPassword,
		"headless":            c.Browser.Headless,
		"debugger_url":        c.Browser.DebuggerURL,
		"transcribe_enabled":  c.Transcribe.Enabled,
		"openai_api_key":      c.Transcribe.APIKey,
		"http_port":           c.HTTPPort,
		"db_path":             c.DBPath,
		"environment":         c.Environment,
		"timezone":            fmt.Sprint(c.Location),
	}
}
