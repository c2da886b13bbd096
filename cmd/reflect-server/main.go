// Command reflect-server runs a go-reactor Server whose message callback
// echoes every received byte back to the sender. Configuration is
// layered flags over environment variables prefixed REFLECT_, via
// viper.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	reactor "github.com/joeycumines/go-reactor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("REFLECT")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "reflect-server",
		Short: "TCP echo server built on go-reactor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "0.0.0.0:9981", "address to listen on")
	flags.Int("threads", 4, "number of I/O loops")
	flags.Int("high-watermark", 64<<20, "output buffer high-watermark, in bytes")
	flags.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")

	_ = v.BindPFlag("listen", flags.Lookup("listen"))
	_ = v.BindPFlag("threads", flags.Lookup("threads"))
	_ = v.BindPFlag("high_watermark", flags.Lookup("high-watermark"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	return cmd
}

func run(v *viper.Viper) error {
	logger := reactor.NewZerologLogger(os.Stderr, logiface.LevelInformational)

	base, err := reactor.NewLoop(reactor.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("reflect-server: new loop: %w", err)
	}

	srv, err := reactor.NewServer(base, v.GetString("listen"), "reflect",
		reactor.WithServerLogger(logger),
		reactor.WithHighWaterMark(v.GetInt("high_watermark")),
	)
	if err != nil {
		return fmt.Errorf("reflect-server: new server: %w", err)
	}
	srv.SetThreadNum(v.GetInt("threads"))
	srv.SetMessageCallback(func(conn *reactor.Connection, buf *reactor.Buffer, _ time.Time) {
		conn.Send([]byte(buf.RetrieveAllAsString()))
	})

	if addr := v.GetString("metrics_addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() { _ = http.ListenAndServe(addr, mux) }()
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("reflect-server: start: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		base.Quit()
	}()

	return base.Run()
}
