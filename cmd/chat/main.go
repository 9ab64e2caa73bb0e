// Command chat is the terminal front end for the City Brain bridge. It runs
// an interactive query loop against a running bridge server and renders
// normalized analyses with a rich terminal UI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/citybrain/modal-bridge/internal/models"
	"github.com/citybrain/modal-bridge/internal/orchestration"
)

var bridgeURL string

var rootCmd = &cobra.Command{
	Use:           "citybrain-chat",
	Short:         "Interactive urban-planning chat against the City Brain bridge",
	Long:          `citybrain-chat connects to a running Modal bridge server and runs an interactive query loop. Ask urban-planning questions; answers come from the deployed City Brain analysis model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the bridge and the Modal deployment behind it",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		status, err := client.Status(cmd.Context())
		if err != nil {
			pterm.Error.Printf("Bridge unreachable at %s: %v\n", bridgeURL, err)
			return err
		}

		switch status.Status {
		case "success":
			pterm.Success.Println(status.Message)
		case "warning":
			pterm.Warning.Println(status.Message)
		default:
			pterm.Error.Println(status.Message)
		}
		if status.ModalVersion != "" {
			pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Modal CLI:  ") + status.ModalVersion)
		}
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Deployed:   ") + fmt.Sprintf("%t", status.AppDeployed))
		return nil
	},
}

func newClient() *orchestration.BridgeClient {
	client := orchestration.NewBridgeClient()
	if bridgeURL != "" {
		client.SetBaseURL(bridgeURL)
	}
	return client
}

func runChat(ctx context.Context) error {
	client := newClient()

	pterm.DefaultHeader.WithFullWidth().Println("City Brain Urban Planning Chat")
	pterm.Println()

	if !client.IsHealthy(ctx) {
		pterm.Warning.Printf("Bridge at %s is not responding; queries will fail until it is up.\n", bridgeURL)
		pterm.Println()
	}

	session := orchestration.NewSession(client)

	var spinner *pterm.SpinnerPrinter
	session.AddObserver(orchestration.StateObserverFunc(func(from, to models.RequestState) {
		switch to {
		case models.StateAwaitingResponse:
			spinner, _ = pterm.DefaultSpinner.Start("Analyzing scenario...")
		case models.StateRendering:
			if spinner != nil {
				spinner.Stop()
				spinner = nil
			}
		}
	}))

	pterm.Println("Type a question and press enter. Ctrl+D or \"exit\" to quit.")
	pterm.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		pterm.Print(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("you> "))
		if !scanner.Scan() {
			pterm.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return nil
		}

		msg, err := session.Submit(ctx, line)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				continue
			}
			pterm.Error.Printf("Query failed: %v\n", err)
			continue
		}

		renderAssistant(msg)
	}
}

func renderAssistant(msg models.ChatMessage) {
	pterm.Println()
	if msg.Result != nil {
		pterm.Println(msg.Result.AnalysisText)
		pterm.Println()
		pterm.Println(pterm.NewStyle(pterm.FgGray).Sprint("model: " + msg.Result.ModelUsed))
	} else {
		pterm.Println(msg.Text)
	}
	pterm.Println()
}

func main() {
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "bridge-url", "http://localhost:5001", "Base URL of the Modal bridge server")
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
