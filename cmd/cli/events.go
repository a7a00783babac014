package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/arkui-x/request-task/internal/domain"
)

type eventMessage struct {
	Tid   int64            `json:"tid"`
	Event domain.EventType `json:"event"`
	Info  json.RawMessage  `json:"info"`
}

var eventsCmd = &cobra.Command{
	Use:   "events [id]",
	Short: "Follow task lifecycle events",
	Long:  `Stream lifecycle events from the server until interrupted. With an id only that task is followed.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		u, err := url.Parse(serverURL)
		if err != nil {
			fail(err)
		}
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		u.Path = "/api/v1/events"
		if len(args) == 1 {
			u.RawQuery = url.Values{"tid": {fmt.Sprint(parseTaskID(args[0]))}}.Encode()
		}

		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			fail(err)
		}
		defer conn.Close()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		for {
			var msg eventMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					fmt.Fprintf(os.Stderr, "Connection closed: %v\n", err)
				}
				return
			}

			if jsonOutput {
				data, _ := json.Marshal(msg)
				fmt.Println(string(data))
				continue
			}

			task, err := domain.DecodeTask(string(msg.Info))
			if err != nil {
				fmt.Printf("%d\t%s\n", msg.Tid, msg.Event)
				continue
			}
			fmt.Printf("%d\t%-9s\t%-11s\t%s\t%s\n",
				msg.Tid, msg.Event, task.State(), formatProgress(task.Progress), task.Reason)
		}
	},
}
