// Command primp is a small curl-alike that exercises the library: it sends
// a request with a browser fingerprint and prints the response.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	primp "github.com/neverl805/never-primp"
)

type flags struct {
	impersonate   string
	impersonateOS string
	proxy         string
	headers       []string
	cookies       []string
	form          []string
	data          string
	json          string
	splitCookies  bool
	insecure      bool
	timeout       time.Duration
	plainText     bool
	headersOnly   bool
}

func main() {
	klog.InitFlags(nil)

	// A .env beside the binary can set PRIMP_PROXY and friends.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.V(1).Infof("no .env loaded: %v", err)
	}

	root := &cobra.Command{
		Use:           "primp",
		Short:         "HTTP client that impersonates real browsers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := &flags{}
	root.PersistentFlags().StringVarP(&f.impersonate, "impersonate", "i", "", "browser profile (e.g. chrome_131, firefox_135)")
	root.PersistentFlags().StringVar(&f.impersonateOS, "impersonate-os", "", "profile OS variant (windows, macos, linux, android, ios)")
	root.PersistentFlags().StringVarP(&f.proxy, "proxy", "x", "", "proxy URL (http, https, socks5, socks5h)")
	root.PersistentFlags().StringArrayVarP(&f.headers, "header", "H", nil, "request header as name:value, repeatable; order is preserved")
	root.PersistentFlags().StringArrayVarP(&f.cookies, "cookie", "b", nil, "cookie as name=value, repeatable")
	root.PersistentFlags().BoolVar(&f.splitCookies, "split-cookies", true, "send one cookie header per cookie")
	root.PersistentFlags().BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	root.PersistentFlags().DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&f.plainText, "text", false, "print readable text extracted from HTML responses")
	root.PersistentFlags().BoolVarP(&f.headersOnly, "head-only", "I", false, "print status and headers, not the body")

	get := &cobra.Command{
		Use:   "get URL",
		Short: "Send a GET request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "GET", args[0], f)
		},
	}

	post := &cobra.Command{
		Use:   "post URL",
		Short: "Send a POST request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "POST", args[0], f)
		},
	}
	post.Flags().StringArrayVarP(&f.form, "form", "F", nil, "form field as name=value, repeatable")
	post.Flags().StringVarP(&f.data, "data", "d", "", "raw request body")
	post.Flags().StringVar(&f.json, "json", "", "JSON request body")

	root.AddCommand(get, post)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, method, url string, f *flags) error {
	opts := []primp.ClientOption{
		primp.WithSplitCookies(f.splitCookies),
		primp.WithTimeout(f.timeout),
	}
	if f.impersonate != "" {
		opts = append(opts, primp.WithImpersonate(f.impersonate))
	}
	if f.impersonateOS != "" {
		opts = append(opts, primp.WithImpersonateOS(f.impersonateOS))
	}
	if f.proxy != "" {
		opts = append(opts, primp.WithProxy(f.proxy))
	}
	if f.insecure {
		opts = append(opts, primp.WithVerify(false))
	}

	client, err := primp.NewClient(opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	reqOpts := &primp.RequestOptions{}
	var headers []primp.Header
	for _, raw := range f.headers {
		name, value, ok := strings.Cut(raw, ":")
		if !ok {
			return fmt.Errorf("malformed header %q, want name:value", raw)
		}
		headers = append(headers, primp.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	reqOpts.Headers = headers

	if len(f.cookies) > 0 {
		reqOpts.Cookies = make(map[string]string, len(f.cookies))
		for _, raw := range f.cookies {
			name, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("malformed cookie %q, want name=value", raw)
			}
			reqOpts.Cookies[name] = value
		}
	}

	switch {
	case f.json != "":
		reqOpts.Content = []byte(f.json)
		reqOpts.Headers = append(reqOpts.Headers, primp.Header{Name: "Content-Type", Value: "application/json"})
	case f.data != "":
		reqOpts.Content = []byte(f.data)
	case len(f.form) > 0:
		reqOpts.Form = make(map[string]string, len(f.form))
		for _, raw := range f.form {
			name, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("malformed form field %q, want name=value", raw)
			}
			reqOpts.Form[name] = value
		}
	}

	resp, err := client.Do(ctx, method, url, reqOpts)
	if err != nil {
		return err
	}

	if f.headersOnly {
		fmt.Println(resp.StatusCode, resp.URL)
		for _, h := range resp.Headers() {
			fmt.Printf("%s: %s\n", h.Name, h.Value)
		}
		return nil
	}

	if f.plainText {
		text, err := resp.TextPlain()
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	text, err := resp.Text()
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}
