package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/matheuscscp/protofinder/capture"
	"github.com/matheuscscp/protofinder/config"
	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/layers/network"
	"github.com/matheuscscp/protofinder/layers/session"
	"github.com/matheuscscp/protofinder/observability"
	pkgcontext "github.com/matheuscscp/protofinder/pkg/context"
	pkgio "github.com/matheuscscp/protofinder/pkg/io"

	"github.com/google/gopacket"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type (
	classifyConfig struct {
		CaptureFile string `yaml:"captureFile"`
		MetricsAddr string `yaml:"metricsAddr"`
		Log         struct {
			Level  string `yaml:"level"`
			Format string `yaml:"format"`
		} `yaml:"log"`
		Tracker capture.TrackerConfig `yaml:"tracker"`
	}

	// classifySummary counts the confirmed sessions per protocol.
	classifySummary struct {
		mu     sync.Mutex
		counts map[application.Protocol]int
	}
)

var (
	classifyCaptureFile string

	classifyCmd = &cobra.Command{
		Use:   "classify <yaml-config-file>",
		Short: "Classify the TCP sessions of a pcap or pcapng capture file",
		Long: `Classify the TCP sessions of a pcap or pcapng capture file.

Every session starts with the candidate protocols of its ports and is
confirmed by the first payload recognized as one of them. Confirmed
sessions are logged as they are found, and the services discovered on
each host are printed at the end.

If metricsAddr is set, prometheus metrics are served on /metrics until
the command is interrupted.`,
		Example: `  # classify.yml:
  #   captureFile: trace.pcapng
  #   metricsAddr: ":9090"
  #   log:
  #     level: debug
  #   tracker:
  #     maxSessions: 100000
  #     verifyChecksums: true
  protofinder classify classify.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var conf classifyConfig
			if err := config.ReadYAMLFileAndUnmarshal(args[0], &conf); err != nil {
				return fmt.Errorf("error reading yaml classify config file: %w", err)
			}
			if classifyCaptureFile != "" {
				conf.CaptureFile = classifyCaptureFile
			}
			if err := conf.validate(); err != nil {
				return fmt.Errorf("invalid classify config: %w", err)
			}

			ctx, cancel := contextWithCancelOnInterrupt(context.Background())
			defer cancel()
			return classify(ctx, &conf, cmd.OutOrStdout())
		},
	}
)

func init() {
	classifyCmd.Flags().StringVar(&classifyCaptureFile, "capture-file", "", "overrides captureFile from the config file")
	rootCmd.AddCommand(classifyCmd)
}

func (c *classifyConfig) validate() error {
	var err error
	if c.CaptureFile == "" {
		err = multierror.Append(err, errors.New("captureFile must be set"))
	}
	if c.Log.Level != "" {
		if _, lErr := logrus.ParseLevel(c.Log.Level); lErr != nil {
			err = multierror.Append(err, fmt.Errorf("error parsing log level: %w", lErr))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		err = multierror.Append(err, fmt.Errorf("unknown log format '%s', must be text or json", c.Log.Format))
	}
	if tErr := c.Tracker.Validate(); tErr != nil {
		err = multierror.Append(err, tErr)
	}
	return err
}

func (c *classifyConfig) configureLogger() {
	if c.Log.Level != "" {
		level, _ := logrus.ParseLevel(c.Log.Level) // validated
		logrus.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func classify(ctx context.Context, conf *classifyConfig, out io.Writer) (err error) {
	conf.configureLogger()

	var closers []io.Closer
	defer func() {
		if cErr := pkgio.Close(closers...); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}()
	if conf.MetricsAddr != "" {
		metricsServer, sErr := observability.ServeMetrics(conf.MetricsAddr)
		if sErr != nil {
			return sErr
		}
		closers = append(closers, metricsServer)
		logrus.
			WithField("metrics_addr", metricsServer.Addr().String()).
			Info("serving metrics")
	}

	summary := &classifySummary{counts: make(map[application.Protocol]int)}
	sink := session.EventSinkFunc(func(ev session.SessionEvent) {
		summary.add(ev.Protocol)
		logrus.
			WithField("protocol", ev.Protocol.String()).
			WithField("client_addr", fmt.Sprintf("%s:%d", ev.Client, ev.ClientPort)).
			WithField("server_addr", fmt.Sprintf("%s:%d", ev.Server, ev.ServerPort)).
			WithField("server_alias", ev.Server.Alias()).
			WithField("start_frame", ev.StartFrameNumber).
			WithField("start_timestamp", ev.StartTimestamp).
			Info("session detected")
	})
	tracker, err := capture.NewTracker(conf.Tracker, application.DefaultDissectors(), sink)
	if err != nil {
		return err
	}

	l := logrus.WithField("capture_file", conf.CaptureFile)
	err = capture.ReadFile(ctx, conf.CaptureFile, func(frameNumber int, pkt gopacket.Packet) error {
		if err := tracker.HandlePacket(frameNumber, pkt); err != nil {
			l.
				WithError(err).
				WithField("frame", frameNumber).
				Warn("error handling frame, skipping")
		}
		return nil
	})
	if err != nil {
		if !pkgcontext.IsContextError(ctx, err) {
			return fmt.Errorf("error reading capture file: %w", err)
		}
		l.Info("interrupted, reporting partial results")
	}

	l.
		WithField("hosts", tracker.Hosts().Len()).
		WithField("open_sessions", tracker.Sessions()).
		WithField("confirmed_sessions", summary.String()).
		Info("capture processed")

	if err := writeServices(out, tracker.Hosts()); err != nil {
		return fmt.Errorf("error writing services: %w", err)
	}

	if conf.MetricsAddr != "" && ctx.Err() == nil {
		l.Info("serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

// writeServices prints one line per confirmed service of each host.
func writeServices(out io.Writer, hosts *network.HostRegistry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tALIAS\tPORT\tPROTOCOL")
	for _, h := range hosts.Hosts() {
		for _, port := range h.ServicePorts() {
			svc, _ := h.ServiceMetadata(port)
			if svc.Protocol() == application.ProtocolUnknown {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", h, h.Alias(), port, svc.Protocol())
		}
	}
	return w.Flush()
}

func (s *classifySummary) add(p application.Protocol) {
	s.mu.Lock()
	s.counts[p]++
	s.mu.Unlock()
}

func (s *classifySummary) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]string, 0, len(s.counts))
	for p, n := range s.counts {
		entries = append(entries, fmt.Sprintf("%s=%d", p, n))
	}
	sort.Strings(entries)
	return strings.Join(entries, ",")
}
