package main

import (
	"crypto/tls"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nebulaquic/quic/dispatch"
	"github.com/nebulaquic/quic/transport"
)

func newClientCommand() *cobra.Command {
	var (
		listenAddr string
		insecure   bool
		data       string
		verbose    bool
		congestion string
	)
	cmd := &cobra.Command{
		Use:   "client <address>",
		Short: "dial a QUIC server and send one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			logger := logrus.StandardLogger()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			config := transport.NewConfig()
			config.CongestionControl = congestion
			config.TLS = &tls.Config{
				ServerName:         serverName(addr),
				InsecureSkipVerify: insecure,
				NextProtos:         []string{"quince"},
				MinVersion:         tls.VersionTLS13,
			}

			handler := &clientHandler{data: data}
			handler.wg.Add(1)

			client := dispatch.NewClient(config)
			client.SetHandler(handler)
			client.SetLogger(logger)
			if err := client.ListenAndServe(listenAddr); err != nil {
				return err
			}
			if _, err := client.Connect(addr); err != nil {
				return err
			}
			handler.wg.Wait()
			return client.Close()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:0", "local address to bind")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip verifying server certificate")
	cmd.Flags().StringVar(&data, "data", "GET /\r\n", "data to send on stream 4")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&congestion, "cc", "reno", "congestion control: reno, cubic, bbr1, bbr2, bbr3")
	return cmd
}

// clientHandler sends data once the handshake completes and logs data read
// back on any stream, ending the command once the connection closes.
type clientHandler struct {
	wg   sync.WaitGroup
	data string
	sent bool
	done bool
}

func (h *clientHandler) Serve(conn *transport.Conn, events []transport.Event) {
	for _, e := range events {
		logrus.WithField("remote", conn.RemoteAddr()).WithField("event", e.Type).Debug("client event")
		switch e.Type {
		case transport.EventHandshakeComplete:
			if h.sent {
				continue
			}
			h.sent = true
			st, err := conn.Stream(4)
			if err != nil {
				logrus.WithError(err).Warn("quince: open stream")
				continue
			}
			if _, err := st.Write([]byte(h.data)); err != nil {
				logrus.WithError(err).Warn("quince: write stream")
				continue
			}
			_ = st.Close()
		case transport.EventStream:
			st, err := conn.Stream(e.StreamID)
			if err != nil || st == nil {
				continue
			}
			buf := make([]byte, 4096)
			n, _, _ := st.Read(buf)
			if n > 0 {
				logrus.Infof("stream %d received:\n%s", e.StreamID, buf[:n])
			}
		case transport.EventConnectionClosed:
			if !h.done {
				h.done = true
				h.wg.Done()
			}
		}
	}
}

func serverName(s string) string {
	colon := strings.LastIndex(s, ":")
	if colon > 0 {
		bracket := strings.LastIndex(s, "]")
		if colon > bracket {
			return s[:colon]
		}
	}
	return s
}
