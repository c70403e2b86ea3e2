package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"ledger-server/internal/domain/money"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd paymentctl のルートコマンド
func newRootCmd(out io.Writer) *cobra.Command {
	var (
		server  string
		timeout time.Duration
		client  *apiClient
	)

	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operate the payment ledger through its REST API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client = newAPIClient(server, timeout)
		},
	}
	rootCmd.SetOut(out)

	defaultServer := os.Getenv("PAYMENTCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", defaultServer, "ledger-server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	getClient := func() *apiClient { return client }

	rootCmd.AddCommand(payCmd(getClient))
	rootCmd.AddCommand(refundCmd(getClient))
	rootCmd.AddCommand(statusCmd(getClient))
	rootCmd.AddCommand(historyCmd(getClient))
	rootCmd.AddCommand(balanceCmd(getClient))
	rootCmd.AddCommand(reconcileCmd(getClient))

	return rootCmd
}

func payCmd(client func() *apiClient) *cobra.Command {
	var (
		currency   string
		key        string
		cardNumber string
		cvv        string
		expiry     string
		wallet     string
	)

	cmd := &cobra.Command{
		Use:   "pay <user_id> <amount>",
		Short: "Submit a payment (card or wallet)",
		Example: `  paymentctl pay user_123 12.34 --card 4242424242424242 --cvv 123 --expiry 12/30
  paymentctl pay user_123 5 --wallet wallet_abc --key order-42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := normalizeAmount(args[1])
			if err != nil {
				return err
			}

			method := map[string]string{}
			switch {
			case wallet != "" && cardNumber != "":
				return errors.New("--card and --wallet are mutually exclusive")
			case wallet != "":
				method["type"] = "wallet"
				method["account_ref"] = wallet
			case cardNumber != "":
				method["type"] = "card"
				method["number"] = cardNumber
				method["cvv"] = cvv
				method["expiry"] = expiry
			default:
				return errors.New("one of --card or --wallet is required")
			}

			body := map[string]interface{}{
				"user_id":         args[0],
				"amount":          amount,
				"currency":        currency,
				"idempotency_key": key,
				"method":          method,
			}
			data, err := client().do(cmd.Context(), http.MethodPost, "/payments", nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code (server default when empty)")
	cmd.Flags().StringVarP(&key, "key", "k", "", "idempotency key")
	cmd.Flags().StringVar(&cardNumber, "card", "", "card number")
	cmd.Flags().StringVar(&cvv, "cvv", "", "card CVV")
	cmd.Flags().StringVar(&expiry, "expiry", "", "card expiry MM/YY")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet account reference")

	return cmd
}

func refundCmd(client func() *apiClient) *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "refund <payment_id>",
		Short: "Refund a processed payment (full amount unless --amount is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body interface{}
			if amount != "" {
				normalized, err := normalizeAmount(amount)
				if err != nil {
					return err
				}
				body = map[string]string{"amount": normalized}
			}
			data, err := client().do(cmd.Context(), http.MethodPost, "/payments/"+url.PathEscape(args[0])+"/refund", nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVarP(&amount, "amount", "a", "", "partial refund amount")

	return cmd
}

func statusCmd(client func() *apiClient) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "status <payment_id>",
		Short: "Show the status of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/payments/" + url.PathEscape(args[0])
			if !full {
				path += "/status"
			}
			data, err := client().do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "show the whole payment record")

	return cmd
}

func historyCmd(client func() *apiClient) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history <user_id>",
		Short: "List a user's payments in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}
			data, err := client().do(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(args[0])+"/payments", query, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "page size (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")

	return cmd
}

func balanceCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user_id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().do(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(args[0])+"/balance", nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func reconcileCmd(client func() *apiClient) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List payments that need operator attention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			data, err := client().do(cmd.Context(), http.MethodGet, "/reconciliation", query, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records (server default when 0)")

	return cmd
}

// normalizeAmount 送信前に金額の書式を検証して "12.34" 形式に揃える
func normalizeAmount(s string) (string, error) {
	minor, err := money.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return money.Format(minor), nil
}

func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
