package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"

	"ipclick/internal/shared/config"
	"ipclick/model"
	"ipclick/sdk"
)

func getSubcommand(configPath *string) *cobra.Command {
	var (
		method    string
		adapter   string
		headers   []string
		data      string
		proxyAddr string
		useProxy  bool
		selector  string
		attr      string
		timeout   time.Duration
		retries   int
		insecure  bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Send one task to a running service and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			m, err := model.ParseMethod(method)
			if err != nil {
				return err
			}
			opts := []model.TaskOption{}
			if adapter != "" {
				k, err := model.ParseAdapterKind(adapter)
				if err != nil {
					return err
				}
				opts = append(opts, model.WithAdapter(k))
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("bad header %q, want Name: value", h)
				}
				opts = append(opts, model.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
			}
			if data != "" {
				opts = append(opts, model.WithData([]byte(data)))
			}
			switch {
			case proxyAddr != "":
				opts = append(opts, model.WithProxy(model.ProxyAddress(proxyAddr)))
			case useProxy:
				opts = append(opts, model.WithProxy(model.UseDefaultProxy(true)))
			}
			flags := cmd.Flags()
			if flags.Changed("timeout") {
				opts = append(opts, model.WithTimeout(timeout))
			}
			if flags.Changed("retries") {
				opts = append(opts, model.WithMaxRetries(retries))
			}
			if insecure {
				opts = append(opts, model.WithVerifyTLS(false))
			}

			dl := sdk.NewDownloader(cfg.ClientConf)
			defer dl.Close()

			resp, err := dl.Request(cmd.Context(), m, args[0], opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if verbose {
				fmt.Fprintf(out, "%s via %s in %v\n", resp, resp.Adapter, resp.Elapsed)
				for k, v := range resp.Headers {
					fmt.Fprintf(out, "%s: %s\n", k, v)
				}
				fmt.Fprintln(out)
			}
			if resp.Error != "" {
				return resp.RaiseForStatus()
			}
			if selector == "" {
				fmt.Fprint(out, resp.Text())
				return nil
			}

			doc, err := resp.HTML()
			if err != nil {
				return err
			}
			doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
				if attr != "" {
					if v, ok := sel.Attr(attr); ok {
						fmt.Fprintln(out, v)
					}
					return
				}
				fmt.Fprintln(out, strings.TrimSpace(sel.Text()))
			})
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&method, "method", "X", "GET", "HTTP method")
	flags.StringVarP(&adapter, "adapter", "a", "", "Adapter to request (default: service default)")
	flags.StringArrayVarP(&headers, "header", "H", nil, "Request header, repeatable")
	flags.StringVarP(&data, "data", "d", "", "Raw request body")
	flags.StringVar(&proxyAddr, "proxy", "", "Proxy URL for this task")
	flags.BoolVar(&useProxy, "default-proxy", false, "Route through the service's default proxy")
	flags.StringVarP(&selector, "select", "s", "", "Print the text of elements matching this CSS selector")
	flags.StringVar(&attr, "attr", "", "With --select, print this attribute instead of the text")
	flags.DurationVar(&timeout, "timeout", 0, "Per-attempt timeout")
	flags.IntVar(&retries, "retries", 0, "Retries after the first attempt (-1 for adapter default)")
	flags.BoolVarP(&insecure, "insecure", "k", false, "Skip TLS verification")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print status line and headers")
	return cmd
}
