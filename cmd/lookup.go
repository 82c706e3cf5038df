package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/layers/session"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var (
	lookupProtocols []string

	lookupCmd = &cobra.Command{
		Use:   "lookup <server-port> <client-port>",
		Short: "Print the probable protocols of a TCP session between two ports, most probable first",
		Example: `  # prints ssl, oscar and oscar-file-transfer, one per line
  protofinder lookup 443 51000

  # prints only ssl
  protofinder lookup 443 51000 --protocol ssl --protocol irc`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverPort, err := parsePort(args[0])
			if err != nil {
				return fmt.Errorf("error parsing server port: %w", err)
			}
			clientPort, err := parsePort(args[1])
			if err != nil {
				return fmt.Errorf("error parsing client port: %w", err)
			}
			filter, err := parseProtocols(lookupProtocols)
			if err != nil {
				return fmt.Errorf("error parsing protocol filter: %w", err)
			}
			for _, p := range session.ProbableTCPProtocols(serverPort, clientPort) {
				if filter != nil && !filter[p] {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.String())
			}
			return nil
		},
	}
)

func init() {
	names := make([]string, 0, len(application.Protocols()))
	for _, p := range application.Protocols() {
		names = append(names, p.String())
	}
	lookupCmd.Flags().StringArrayVar(&lookupProtocols, "protocol", nil,
		fmt.Sprintf("only print these protocols (repeatable), one of: %s", strings.Join(names, ", ")))
	rootCmd.AddCommand(lookupCmd)
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("port number must be in range [0, 65535]: %w", err)
	}
	return uint16(port), nil
}

// parseProtocols returns nil when names is empty.
func parseProtocols(names []string) (map[application.Protocol]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var err error
	protocols := make(map[application.Protocol]bool, len(names))
	for _, name := range names {
		p, pErr := application.ParseProtocol(name)
		if pErr != nil {
			err = multierror.Append(err, pErr)
			continue
		}
		protocols[p] = true
	}
	if err != nil {
		return nil, err
	}
	return protocols, nil
}
