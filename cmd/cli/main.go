package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkui-x/request-task/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	jsonOutput  bool
	rootCmd     = &cobra.Command{
		Use:   "request-task",
		Short: "request-task CLI - manage download and upload tasks",
		Long:  `A command-line interface for creating, driving and inspecting tasks held by a request-task server.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Print raw JSON responses")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(commandFor("start", "Start a task"))
	rootCmd.AddCommand(commandFor("pause", "Pause a running download"))
	rootCmd.AddCommand(commandFor("resume", "Resume a paused download"))
	rootCmd.AddCommand(commandFor("stop", "Stop a task"))
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(mimeTypeCmd)
	rootCmd.AddCommand(storagePathCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(eventsCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call sends a request to the server and returns the body. Statuses other
// than want end the process.
func call(method, path string, body []byte, want ...int) []byte {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(err)
	}
	for _, code := range want {
		if resp.StatusCode == code {
			return data
		}
	}
	fmt.Fprintf(os.Stderr, "Error (%d): %s\n", resp.StatusCode, string(data))
	os.Exit(1)
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// printJSON pretty prints a JSON document
func printJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

// printTask prints the summary of a TaskInfo document
func printTask(info []byte) {
	if jsonOutput {
		printJSON(info)
		return
	}

	task, err := domain.DecodeTask(string(info))
	if err != nil {
		fail(err)
	}

	fmt.Printf("Task Details:\n")
	fmt.Printf("  ID:        %d\n", task.Tid)
	fmt.Printf("  URL:       %s\n", task.URL)
	fmt.Printf("  Title:     %s\n", task.Title)
	fmt.Printf("  Action:    %s\n", actionName(task.Action))
	fmt.Printf("  State:     %s\n", task.State())
	fmt.Printf("  Reason:    %s\n", task.Reason)
	fmt.Printf("  Progress:  %s\n", formatProgress(task.Progress))
	if task.Saveas != "" {
		fmt.Printf("  Saved as:  %s\n", task.Saveas)
	}
	if task.MimeType != "" {
		fmt.Printf("  MIME type: %s\n", task.MimeType)
	}
	fmt.Printf("  Tries:     %d\n", task.Tries)
	fmt.Printf("  Created:   %s\n", time.UnixMilli(task.Ctime).Format(time.RFC3339))
	fmt.Printf("  Modified:  %s\n", time.UnixMilli(task.Mtime).Format(time.RFC3339))
}

func formatProgress(p domain.Progress) string {
	total := p.TotalSize()
	if total <= 0 {
		return fmt.Sprintf("%d bytes", p.Processed)
	}
	return fmt.Sprintf("%d/%d bytes (%.1f%%)", p.Processed, total, float64(p.Processed)*100/float64(total))
}

func actionName(a domain.Action) string {
	if a == domain.ActionUpload {
		return "upload"
	}
	return "download"
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
