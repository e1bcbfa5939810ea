package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/perchlabs/perch/internal/proto"
)

func main() {
	root := &cobra.Command{
		Use:   "perch",
		Short: "perch terminal client",
	}
	root.AddCommand(attachCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open an interactive session on a perchd host",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			sessionID, _ := cmd.Flags().GetString("session")
			engine, _ := cmd.Flags().GetString("engine")
			persistent, _ := cmd.Flags().GetBool("persistent")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			conn, _, err := websocket.Dial(ctx, url, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", url, err)
			}
			defer conn.CloseNow()
			conn.SetReadLimit(512 * 1024)

			cols, rows := 80, 24
			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				if w, h, err := term.GetSize(fd); err == nil {
					cols, rows = w, h
				}
				oldState, err := term.MakeRaw(fd)
				if err != nil {
					return fmt.Errorf("raw mode: %w", err)
				}
				defer term.Restore(fd, oldState)
			}

			reqID := uuid.New().String()[:8]
			if err := send(ctx, conn, reqID, proto.Request{
				Op:         proto.OpCreate,
				SessionID:  sessionID,
				Cols:       cols,
				Rows:       rows,
				Persistent: persistent,
				Engine:     engine,
			}); err != nil {
				return err
			}

			// Reader goroutine drives the screen; stdin loop feeds input.
			done := make(chan error, 1)
			var sid string
			ready := make(chan string, 1)
			go func() {
				for {
					_, data, err := conn.Read(ctx)
					if err != nil {
						done <- err
						return
					}
					var env proto.Envelope
					if json.Unmarshal(data, &env) != nil || env.Type != proto.NamespaceTerminal {
						continue
					}
					var op struct {
						Op string `json:"op"`
						OK *bool  `json:"ok"`
					}
					json.Unmarshal(env.Data, &op)
					switch op.Op {
					case proto.OpCreate:
						var reply proto.CreateReply
						json.Unmarshal(env.Data, &reply)
						if !reply.OK {
							var fail proto.ErrorReply
							json.Unmarshal(env.Data, &fail)
							done <- fmt.Errorf("create failed: %v", fail.Error)
							return
						}
						ready <- reply.SessionID
					case proto.OpData:
						var ev proto.DataEvent
						json.Unmarshal(env.Data, &ev)
						if chunk, err := base64.StdEncoding.DecodeString(ev.Chunk); err == nil {
							os.Stdout.Write(chunk)
						}
					case proto.OpExit:
						var ev proto.ExitEvent
						json.Unmarshal(env.Data, &ev)
						if ev.Code == 0 {
							done <- nil
						} else {
							done <- fmt.Errorf("session exited with code %d", ev.Code)
						}
						return
					}
				}
			}()

			select {
			case sid = <-ready:
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}

			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := os.Stdin.Read(buf)
					if n > 0 {
						send(ctx, conn, "", proto.Request{
							Op:        proto.OpInput,
							SessionID: sid,
							Data:      base64.StdEncoding.EncodeToString(buf[:n]),
						})
					}
					if err != nil {
						return
					}
				}
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().String("url", "ws://127.0.0.1:7630/ws", "perchd channel URL")
	cmd.Flags().String("session", "", "session id to reattach")
	cmd.Flags().String("engine", "", "engine hint: auto, line or pipe")
	cmd.Flags().Bool("persistent", true, "keep the session alive across disconnects")
	return cmd
}

func send(ctx context.Context, conn *websocket.Conn, id string, req proto.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(proto.Envelope{Type: proto.NamespaceTerminal, ID: id, Data: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
