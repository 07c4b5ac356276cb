// Command freshwatch tails a freshness daemon: it subscribes to the
// notification channel and prints every message, following the version
// snapshot as it moves. Useful for checking what a session would see.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	freshness "github.com/svelumani/MusicianManager-sub005"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/push"
)

func main() {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "freshwatch",
		Short: "Tail the freshness notification channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(serverURL)
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8090", "freshness daemon base URL")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(serverURL string) error {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log := logger.FromZerolog(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	versions := freshness.NewVersionClient(serverURL, "")
	snap, err := versions.FetchVersions(ctx)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", serverURL, err)
	}
	fmt.Printf("connected to %s, %d entity group(s) tracked\n", serverURL, len(snap))
	for key, ver := range snap {
		fmt.Printf("  %-24s v%d\n", key, ver)
	}

	channel := push.NewChannel(freshness.WSEndpoint(serverURL), push.WithLogger(log))
	if err := channel.ConnectWithRetry(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = channel.Close(closeCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case msg := <-channel.Events():
			printMessage(ctx, versions, msg)
		}
	}
}

func printMessage(ctx context.Context, versions *freshness.VersionClient, msg push.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05.000")
	switch msg.Type {
	case push.KindDataUpdate:
		line := fmt.Sprintf("%s  data-update  %s", ts, msg.Entity)
		if snap, err := versions.FetchVersions(ctx); err == nil {
			if ver, ok := snap[msg.Entity]; ok {
				line += fmt.Sprintf("  v%d", ver)
			}
		}
		fmt.Println(line)
	case push.KindConnectionStatus:
		fmt.Printf("%s  connection   connected=%t reconnecting=%t\n", ts, msg.Connected, msg.Reconnecting)
	case push.KindSystemMessage:
		fmt.Printf("%s  system       %s\n", ts, msg.Text)
	}
}
