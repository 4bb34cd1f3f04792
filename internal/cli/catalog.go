package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/sigweihq/ebookpay/pkg/types"
)

var readOut string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ebooks for sale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		listings, err := a.catalog.ListAvailable(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list ebooks: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(listings) == 0 {
			fmt.Fprintln(out, "No ebooks for sale.")
			return nil
		}
		fmt.Fprintf(out, "%-6s %-12s %-32s %s\n", "ID", "PRICE", "TITLE", "AUTHOR")
		for _, l := range listings {
			title, author := "(metadata unavailable)", "-"
			if md, err := a.catalog.Metadata(cmd.Context(), l.MetadataURI); err == nil {
				s := metadata.Summarize(md)
				title, author = s.Name, s.Author
			}
			fmt.Fprintf(out, "%-6s %-12s %-32s %s\n", l.ContentID, l.Price, title, author)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show price, royalty split and metadata of an ebook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseContentID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.catalog.Details(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to read ebook %s: %w", id, err)
		}
		out := cmd.OutOrStdout()
		s := metadata.Summarize(d.Metadata)
		fmt.Fprintf(out, "ID:          %s\n", d.ContentID)
		fmt.Fprintf(out, "Title:       %s\n", s.Name)
		fmt.Fprintf(out, "Author:      %s\n", s.Author)
		fmt.Fprintf(out, "Category:    %s\n", s.Category)
		fmt.Fprintf(out, "Format:      %s\n", s.FileType)
		fmt.Fprintf(out, "Price:       %s\n", d.Price)
		fmt.Fprintf(out, "Creator:     %s\n", d.Creator.Hex())
		fmt.Fprintf(out, "Split:       creator %d%%, referrer %d%%, platform %d%%\n", d.Split.CreatorPct, d.Split.DistributorPct, d.Split.PlatformPct)
		fmt.Fprintf(out, "Metadata:    %s\n", d.MetadataURI)
		if d.Metadata.Description != "" {
			fmt.Fprintf(out, "\n%s\n", d.Metadata.Description)
		}
		return nil
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library [address]",
	Short: "List the ebooks an account owns",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		holder, err := a.account(args)
		if err != nil {
			return err
		}

		items, err := a.catalog.Library(cmd.Context(), holder)
		if err != nil {
			return fmt.Errorf("failed to read library: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintf(out, "%s owns no ebooks.\n", holder.Hex())
			return nil
		}
		fmt.Fprintf(out, "%-8s %-6s %s\n", "TOKEN", "EBOOK", "TITLE")
		for _, item := range items {
			title := "(metadata unavailable: " + errString(item.MetadataErr) + ")"
			if item.Metadata != nil {
				title = item.Metadata.Name
			}
			fmt.Fprintf(out, "%-8s %-6s %s\n", item.TokenID, item.ContentID, title)
		}
		return nil
	},
}

var ownsCmd = &cobra.Command{
	Use:   "owns <address> <id>",
	Short: "Check whether an account owns a copy of an ebook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, err := types.ParseAddress(args[0])
		if err != nil {
			return err
		}
		id, err := parseContentID(args[1])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		view := a.catalog.Oracle().NewView()
		a.bus.Attach(view)
		owns, err := view.OwnsContent(cmd.Context(), holder, id)
		if err != nil {
			return fmt.Errorf("failed to check ownership: %w", err)
		}
		answer := "no"
		if owns {
			answer = "yes"
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

var allowanceCmd = &cobra.Command{
	Use:   "allowance [address]",
	Short: "Show token balances and allowances granted to the sales contract",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		owner, err := a.account(args)
		if err != nil {
			return err
		}

		contracts := a.catalog.Contracts()
		fee, err := a.catalog.UploadFee(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read upload fee: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Spender:     %s\n", contracts.Sales.Hex())
		fmt.Fprintf(out, "Upload fee:  %s\n", fee)

		tokens := []struct {
			label string
			ref   chains.ContractRef
		}{
			{"Sales token", contracts.SalesTokenRef()},
			{"Fee token", contracts.FeeTokenRef()},
		}
		for _, token := range tokens {
			balance, err := a.catalog.Balance(cmd.Context(), token.ref, owner)
			if err != nil {
				return fmt.Errorf("failed to read %s balance: %w", token.label, err)
			}
			allowed, err := a.gate.CurrentAllowance(cmd.Context(), owner, contracts.Sales, token.ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-12s %s  balance %s  allowance %s\n", token.label+":", token.ref.Address.Hex(),
				balance, types.NewTokenAmount(allowed, constants.PriceDecimals))
		}
		return nil
	},
}

var earningsCmd = &cobra.Command{
	Use:   "earnings [address]",
	Short: "Show withdrawable author and distributor earnings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		account, err := a.account(args)
		if err != nil {
			return err
		}

		earnings, err := a.catalog.Earnings(cmd.Context(), account)
		if err != nil {
			return fmt.Errorf("failed to read earnings: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Author:      %s\n", earnings.Author)
		fmt.Fprintf(out, "Distributor: %s\n", earnings.Distributor)
		fmt.Fprintf(out, "Total:       %s\n", earnings.Total())
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Download the file of an ebook you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseContentID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()
		holder, err := a.account(nil)
		if err != nil {
			return err
		}

		md, rc, err := a.catalog.OpenBook(cmd.Context(), holder, id)
		if err != nil {
			return fmt.Errorf("failed to open ebook %s: %w", id, err)
		}
		defer rc.Close()

		if readOut == "" {
			if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
				return fmt.Errorf("failed to download %s: %w", md.Name, err)
			}
			return nil
		}
		n, err := saveFile(readOut, rc)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", md.Name, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved %q to %s (%s)\n", md.Name, readOut, metadata.FormatFileSize(n))
		return nil
	},
}

// saveFile writes r to path. A failed copy or close removes the partial file.
func saveFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func init() {
	readCmd.Flags().StringVarP(&readOut, "output", "o", "", "write the file here instead of stdout")
}

func parseContentID(s string) (types.ContentID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ebook id %q", s)
	}
	return types.ContentID(v), nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
