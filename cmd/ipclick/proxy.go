package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ipclick/internal/shared/config"
	"ipclick/model"
)

func proxySubcommand(configPath *string) *cobra.Command {
	var d model.ProxyDescriptor
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Print the proxy URL built from the [proxy] section and flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			base := cfg.Proxy
			flags := cmd.Flags()
			if flags.Changed("scheme") {
				base.Scheme = d.Scheme
			}
			if flags.Changed("host") {
				base.Host = d.Host
			}
			if flags.Changed("port") {
				base.Port = d.Port
			}
			if flags.Changed("key") {
				base.AuthKey = d.AuthKey
			}
			if flags.Changed("secret") {
				base.AuthSecret = d.AuthSecret
			}
			if flags.Changed("channel") {
				base.ChannelName = d.ChannelName
			}
			if flags.Changed("ttl") {
				base.SessionTTL = d.SessionTTL
			}
			if flags.Changed("country") {
				base.CountryCode = d.CountryCode
			}
			if flags.Changed("tunnel") {
				base.TunnelServer = d.TunnelServer
			}

			u, ok := model.BuildProxyURL(base)
			if !ok {
				return errors.New("no proxy host configured")
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&d.Scheme, "scheme", "", "Proxy scheme")
	flags.StringVar(&d.Host, "host", "", "Proxy host")
	flags.IntVar(&d.Port, "port", 0, "Proxy port")
	flags.StringVar(&d.AuthKey, "key", "", "Auth key")
	flags.StringVar(&d.AuthSecret, "secret", "", "Auth secret")
	flags.StringVar(&d.ChannelName, "channel", "", "Channel name")
	flags.IntVar(&d.SessionTTL, "ttl", 0, "Sticky session TTL in seconds")
	flags.StringVar(&d.CountryCode, "country", "", "Country code")
	flags.StringVar(&d.TunnelServer, "tunnel", "", "Tunnel server host:port")
	return cmd
}
