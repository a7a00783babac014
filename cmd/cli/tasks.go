package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkui-x/request-task/internal/domain"
)

var createCmd = &cobra.Command{
	Use:   "create [url]",
	Short: "Create a download task",
	Long: `Create a download task for url. Use --config to submit a complete
task config document instead.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var data []byte
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				fail(err)
			}
			data = raw
		} else {
			if len(args) != 1 {
				fail(fmt.Errorf("a url or --config is required"))
			}
			config, err := configFromFlags(cmd, args[0])
			if err != nil {
				fail(err)
			}
			if data, err = json.Marshal(config); err != nil {
				fail(err)
			}
		}

		body := call(http.MethodPost, "/api/v1/tasks", data, http.StatusCreated)
		var result struct {
			Tid int64 `json:"tid"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			fail(err)
		}
		fmt.Printf("Task created successfully!\n")
		fmt.Printf("ID: %d\n", result.Tid)

		if start, _ := cmd.Flags().GetBool("start"); start {
			call(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/start", result.Tid), nil, http.StatusAccepted)
			fmt.Println("Task started")
		}
	},
}

func configFromFlags(cmd *cobra.Command, url string) (*domain.TaskConfig, error) {
	flags := cmd.Flags()
	config := &domain.TaskConfig{
		Action:  domain.ActionDownload,
		URL:     url,
		Method:  "GET",
		Ends:    -1,
		Headers: map[string]string{},
	}
	config.Saveas, _ = flags.GetString("saveas")
	config.Title, _ = flags.GetString("title")
	config.Description, _ = flags.GetString("description")
	config.Token, _ = flags.GetString("token")
	config.Overwrite, _ = flags.GetBool("overwrite")
	config.Metered, _ = flags.GetBool("metered")
	config.Retry, _ = flags.GetBool("retry")
	config.Begins, _ = flags.GetInt64("begins")
	config.Ends, _ = flags.GetInt64("ends")

	if foreground, _ := flags.GetBool("foreground"); foreground {
		config.Mode = domain.ModeForeground
	}
	if api10, _ := flags.GetBool("api10"); api10 {
		config.Version = domain.VersionAPI10
	}

	network, _ := flags.GetString("network")
	switch network {
	case "", "any":
		config.Network = domain.NetworkAny
	case "wifi":
		config.Network = domain.NetworkWifi
	case "cellular":
		config.Network = domain.NetworkCellular
	default:
		return nil, fmt.Errorf("unknown network %q (any, wifi, cellular)", network)
	}

	headers, _ := flags.GetStringArray("header")
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, use Name: value", h)
		}
		config.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return config, nil
}

// commandFor builds one of the task commands answered with 202 Accepted
func commandFor(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ensureServer()
			tid := parseTaskID(args[0])
			call(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/%s", tid, op), nil, http.StatusAccepted)
			fmt.Printf("Task %d: %s requested\n", tid, op)
		},
	}
}

var removeCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		call(http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%d", tid), nil, http.StatusOK)
		fmt.Println("Task removed successfully")
	},
}

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			printTask(call(http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", tid), nil, http.StatusOK))
			return
		}

		data, _ := json.Marshal(map[string]string{"token": token})
		printTask(call(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/touch", tid), data, http.StatusOK))
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch [id] [token]",
	Short: "Show a token guarded task",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		data, _ := json.Marshal(map[string]string{"token": args[1]})
		printTask(call(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/touch", tid), data, http.StatusOK))
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search tasks",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		filter, err := filterFromFlags(cmd)
		if err != nil {
			fail(err)
		}
		data, _ := json.Marshal(filter)

		body := call(http.MethodPost, "/api/v1/search", data, http.StatusOK)
		if jsonOutput {
			printJSON(body)
			return
		}

		var result struct {
			Tids []int64 `json:"tids"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			fail(err)
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tURL\tSTATE\tPROGRESS\tREASON")
		for _, tid := range result.Tids {
			info := call(http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", tid), nil, http.StatusOK, http.StatusNotFound)
			task, err := domain.DecodeTask(string(info))
			if err != nil || task.Tid == 0 {
				// token guarded
				fmt.Fprintf(w, "%d\t-\t-\t-\t-\n", tid)
				continue
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				task.Tid,
				truncate(task.URL, 40),
				task.State(),
				formatProgress(task.Progress),
				task.Reason)
		}
		w.Flush()
	},
}

func filterFromFlags(cmd *cobra.Command) (domain.Filter, error) {
	flags := cmd.Flags()
	filter := domain.NewFilter()
	filter.Bundle, _ = flags.GetString("bundle")
	filter.Before, _ = flags.GetInt64("before")
	filter.After, _ = flags.GetInt64("after")

	if name, _ := flags.GetString("state"); name != "" {
		state, ok := domain.ParseState(name)
		if !ok {
			return filter, fmt.Errorf("unknown state %q", name)
		}
		filter.State = state
	}

	switch action, _ := flags.GetString("action"); action {
	case "":
	case "download":
		filter.Action = domain.ActionDownload
	case "upload":
		filter.Action = domain.ActionUpload
	default:
		return filter, fmt.Errorf("unknown action %q (download, upload)", action)
	}

	switch mode, _ := flags.GetString("mode"); mode {
	case "":
	case "background":
		filter.Mode = domain.ModeBackground
	case "foreground":
		filter.Mode = domain.ModeForeground
	default:
		return filter, fmt.Errorf("unknown mode %q (background, foreground)", mode)
	}
	return filter, nil
}

var mimeTypeCmd = &cobra.Command{
	Use:   "mimetype [id]",
	Short: "Show the MIME type of a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		body := call(http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/mimetype", tid), nil, http.StatusOK)

		var result struct {
			MimeType string `json:"mimeType"`
		}
		json.Unmarshal(body, &result)
		fmt.Println(result.MimeType)
	},
}

var storagePathCmd = &cobra.Command{
	Use:   "storage-path",
	Short: "Show the default storage directory",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		body := call(http.MethodGet, "/api/v1/storage/default-path", nil, http.StatusOK)

		var result struct {
			Path string `json:"path"`
		}
		json.Unmarshal(body, &result)
		fmt.Println(result.Path)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [id] [file]",
	Short: "Overwrite a task record with a TaskInfo document",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		data, err := os.ReadFile(args[1])
		if err != nil {
			fail(err)
		}
		call(http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", tid), data, http.StatusOK)
		fmt.Println("Task record updated")
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge [id]",
	Short: "Delete the record of a finished task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		call(http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/purge", tid), nil, http.StatusOK)
		fmt.Println("Task purged")
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show the lifecycle events logged for a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		tid := parseTaskID(args[0])
		path := fmt.Sprintf("/api/v1/tasks/%d/history", tid)
		if date, _ := cmd.Flags().GetString("date"); date != "" {
			path += "?date=" + date
		}

		body := call(http.MethodGet, path, nil, http.StatusOK)
		if jsonOutput {
			printJSON(body)
			return
		}

		var result struct {
			Entries []struct {
				Timestamp string                 `json:"timestamp"`
				Message   string                 `json:"message"`
				Fields    map[string]interface{} `json:"fields"`
			} `json:"entries"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			fail(err)
		}

		w := newTable()
		fmt.Fprintln(w, "TIME\tEVENT\tSTATE\tPROCESSED\tREASON")
		for _, e := range result.Entries {
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\n",
				e.Timestamp, e.Message, e.Fields["state"], e.Fields["processed"], e.Fields["reason"])
		}
		w.Flush()
	},
}

func parseTaskID(s string) int64 {
	tid, err := strconv.ParseInt(s, 10, 64)
	if err != nil || tid <= 0 {
		fail(fmt.Errorf("invalid task id %q", s))
	}
	return tid
}

func init() {
	createCmd.Flags().String("config", "", "Read the task config document from a file")
	createCmd.Flags().StringP("saveas", "o", "", "Destination path")
	createCmd.Flags().StringP("title", "t", "", "Task title")
	createCmd.Flags().String("description", "", "Task description")
	createCmd.Flags().String("token", "", "Token guarding the task")
	createCmd.Flags().String("network", "any", "Allowed network (any, wifi, cellular)")
	createCmd.Flags().StringArrayP("header", "H", nil, "Request header (Name: value), repeatable")
	createCmd.Flags().Int64("begins", 0, "First byte of the requested range")
	createCmd.Flags().Int64("ends", -1, "Last byte of the requested range, -1 for the end")
	createCmd.Flags().Bool("overwrite", false, "Overwrite an existing destination")
	createCmd.Flags().Bool("metered", false, "Allow metered networks")
	createCmd.Flags().Bool("retry", true, "Retry transient failures")
	createCmd.Flags().Bool("foreground", false, "Create a foreground task")
	createCmd.Flags().Bool("api10", false, "Create the task with API10 semantics")
	createCmd.Flags().Bool("start", false, "Start the task after creating it")

	showCmd.Flags().String("token", "", "Token of a guarded task")

	searchCmd.Flags().String("bundle", "", "Owner bundle")
	searchCmd.Flags().String("state", "", "Lifecycle state")
	searchCmd.Flags().String("action", "", "Action (download, upload)")
	searchCmd.Flags().String("mode", "", "Mode (background, foreground)")
	searchCmd.Flags().Int64("before", -1, "Created before (unix ms)")
	searchCmd.Flags().Int64("after", -1, "Created after (unix ms)")

	historyCmd.Flags().String("date", "", "Day to read (YYYY-MM-DD), today by default")
}
