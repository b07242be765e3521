package main

import (
	"crypto/tls"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nebulaquic/quic/dispatch"
	"github.com/nebulaquic/quic/transport"
)

func newServerCommand() *cobra.Command {
	var (
		listenAddr   string
		certFile     string
		keyFile      string
		workers      int
		requireRetry bool
		verbose      bool
		congestion   string
		reply        string
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "accept QUIC connections and answer each stream with a fixed reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.StandardLogger()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				return err
			}
			config := transport.NewConfig()
			config.CongestionControl = congestion
			config.TLS = &tls.Config{
				Certificates: []tls.Certificate{cert},
				NextProtos:   []string{"quince"},
				MinVersion:   tls.VersionTLS13,
			}

			if workers < 1 {
				workers = runtime.NumCPU()
			}
			server, err := dispatch.NewServer(config, workers, requireRetry)
			if err != nil {
				return err
			}
			server.SetHandler(&serverHandler{reply: reply})
			server.SetLogger(logger)
			if err := server.Register(prometheus.DefaultRegisterer); err != nil {
				logger.WithError(err).Warn("quince: metrics register")
			}
			logger.WithField("addr", listenAddr).WithField("workers", workers).Info("quince: listening")
			if err := server.ListenAndServe(listenAddr); err != nil {
				return err
			}
			select {}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "address to bind")
	cmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file (required)")
	cmd.Flags().StringVar(&keyFile, "key", "", "TLS key file (required)")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of worker goroutines (default: NumCPU)")
	cmd.Flags().BoolVar(&requireRetry, "require-retry", false, "require a Retry round trip before accepting")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&congestion, "cc", "reno", "congestion control: reno, cubic, bbr1, bbr2, bbr3")
	cmd.Flags().StringVar(&reply, "reply", "quince server\r\n", "data written back on every received stream")
	cmd.MarkFlagRequired("cert")
	cmd.MarkFlagRequired("key")
	return cmd
}

// serverHandler writes reply on a stream once the peer signals it is done
// sending on it, then closes its write side.
type serverHandler struct {
	reply string
}

func (h *serverHandler) Serve(conn *transport.Conn, events []transport.Event) {
	for _, e := range events {
		logrus.WithField("remote", conn.RemoteAddr()).WithField("event", e.Type).Debug("server event")
		switch e.Type {
		case transport.EventStream:
			st, err := conn.Stream(e.StreamID)
			if err != nil || st == nil {
				continue
			}
			buf := make([]byte, 4096)
			n, fin, _ := st.Read(buf)
			if n > 0 {
				logrus.Infof("stream %d received %d bytes", e.StreamID, n)
			}
			if fin {
				_, _ = st.Write([]byte(h.reply))
				_ = st.Close()
			}
		}
	}
}
