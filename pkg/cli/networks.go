package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/config"
	"github.com/sigweihq/ethreconcile/pkg/utils"
)

func networksCmd(root *rootOptions) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List the supported currencies, optionally with a tenant's settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := chains.MustNewTokenRegistry(chains.DefaultDescriptors)

			var tc *config.TenantConfig
			if tenant != "" {
				cfg, err := config.Load(root.configPath)
				if err != nil {
					return err
				}
				t, err := cfg.Tenant(tenant)
				if err != nil {
					return err
				}
				tc = &t
			}
			return printNetworks(root, tokens, tc)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "show whether each currency is allowed and configured for this tenant")
	return cmd
}

func printNetworks(root *rootOptions, tokens *chains.TokenRegistry, tc *config.TenantConfig) error {
	var (
		rates      map[string]decimal.Decimal
		configured []string
	)
	if tc != nil {
		var err error
		if rates, err = tc.ParsedRates(); err != nil {
			return err
		}
		for _, d := range tokens.Descriptors() {
			if _, ok := lookupRPCURL(tc.RPCURLs, d.RPCURLKey()); ok {
				configured = append(configured, d.NetworkID)
			}
		}
	}

	w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
	header := "CURRENCY\tNETWORK\tCHAIN ID\tCONTRACT\tDECIMALS\tSAFETY BLOCKS"
	if tc != nil {
		header += "\tALLOWED\tRPC CONFIGURED"
	}
	fmt.Fprintln(w, header)

	for _, d := range tokens.Descriptors() {
		contract := d.ContractAddress
		if d.Native {
			contract = "native"
		}
		line := fmt.Sprintf("%s\t%s\t%d\t%s\t%d\t%d", d.CurrencyType(), d.NetworkName, d.ChainID, contract, d.Decimals, d.SafetyBlockCount)
		if tc != nil {
			allowed := tokens.IsAllowed(d, rates, tc.Networks)
			line += "\t" + strconv.FormatBool(allowed) + "\t" + strconv.FormatBool(slices.Contains(configured, d.NetworkID))
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

// lookupRPCURL finds an RPC key regardless of case; viper lowercases map keys
func lookupRPCURL(rpcURLs map[string]string, key string) (string, bool) {
	for k, v := range rpcURLs {
		if strings.EqualFold(k, key) && v != "" {
			return v, true
		}
	}
	return "", false
}

func quoteCmd(root *rootOptions) *cobra.Command {
	var tenant, currency, total string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Convert a fiat order total into token base units and a payment URI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			tc, err := cfg.Tenant(tenant)
			if err != nil {
				return err
			}
			fiat, err := decimal.NewFromString(total)
			if err != nil {
				return fmt.Errorf("invalid total %q: %w", total, err)
			}
			return printQuote(root, chains.MustNewTokenRegistry(chains.DefaultDescriptors), tc, currency, fiat)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant whose rates and receiving address are used")
	cmd.Flags().StringVar(&currency, "currency", "", "currency type, e.g. ETH-L1 or DAI-Optimism")
	cmd.Flags().StringVar(&total, "total", "", "fiat order total, e.g. 10.00")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("currency")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func printQuote(root *rootOptions, tokens *chains.TokenRegistry, tc config.TenantConfig, currency string, total decimal.Decimal) error {
	desc, err := tokens.LookupCurrencyType(currency)
	if err != nil {
		return err
	}
	rates, err := tc.ParsedRates()
	if err != nil {
		return err
	}
	if !tokens.IsAllowed(desc, rates, tc.Networks) {
		return fmt.Errorf("currency %s is not accepted by tenant %s", desc.CurrencyType(), tc.Slug)
	}

	amount, err := utils.FiatToBaseUnits(total, rates[desc.RateKey()], desc.Decimals)
	if err != nil {
		return err
	}

	fmt.Fprintf(root.stdout, "currency:     %s\n", desc.CurrencyType())
	fmt.Fprintf(root.stdout, "amount:       %s\n", utils.FormatBaseUnits(amount, desc.Decimals))
	fmt.Fprintf(root.stdout, "base units:   %s\n", amount.String())
	fmt.Fprintf(root.stdout, "payment uri:  %s\n", utils.ERC681URL(tc.ReceivingAddress, amount, desc.ChainID, desc.ContractAddress))
	return nil
}
