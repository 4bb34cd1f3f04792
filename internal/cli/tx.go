package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/chains/evm"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/ebook"
	"github.com/sigweihq/ebookpay/pkg/pinning"
	"github.com/sigweihq/ebookpay/pkg/types"
)

var (
	draft       ebook.Draft
	coverPath   string
	bookPath    string
	referrerHex string
	exclusive   bool
	statusWait  time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload an ebook to IPFS and list it for sale",
	Long: `Publish uploads the cover, the ebook file and a metadata document to the
pinning service, then lists the document for sale. Listing charges the upload
fee in the fee token; an approval is requested first when the allowance is short.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cover, closeCover, err := openFile(coverPath)
		if err != nil {
			return err
		}
		defer closeCover()
		book, closeBook, err := openFile(bookPath)
		if err != nil {
			return err
		}
		defer closeBook()

		jwt, err := cfg.GetPinningJWT(&flags)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		stderr := cmd.ErrOrStderr()
		uploader, err := pinning.NewPinataClient(pinning.PinataOptions{
			URL: cfg.GetPinningURL(),
			JWT: jwt,
			Progress: func(sent, total int64) {
				if total > 0 {
					fmt.Fprintf(stderr, "\r  uploading %3d%%", sent*100/total)
					if sent == total {
						fmt.Fprintln(stderr)
					}
				}
			},
			Logger: a.logger,
		})
		if err != nil {
			return err
		}

		d := draft
		d.Cover, d.Book = cover, book
		pub, err := ebook.NewPublisher(a.catalog, uploader, a.workflow, a.logger).Publish(cmd.Context(), d)
		if pub != nil && pub.MetadataURI != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "metadata: %s\n", pub.MetadataURI)
		}
		if pub == nil || pub.Snapshot.Action == "" {
			return err
		}
		return report(cmd.OutOrStdout(), pub.Snapshot, err)
	},
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase <id>",
	Short: "Buy a copy of an ebook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseContentID(args[0])
		if err != nil {
			return err
		}
		var ref common.Address
		if referrerHex != "" {
			if ref, err = types.ParseAddress(referrerHex); err != nil {
				return fmt.Errorf("invalid --ref: %w", err)
			}
		}
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		purchase := a.catalog.NewPurchase(id, ref)
		purchase.Exclusive = exclusive
		snap, err := a.workflow.Submit(cmd.Context(), purchase)
		return report(cmd.OutOrStdout(), snap, err)
	},
}

var withdrawCmd = &cobra.Command{
	Use:       "withdraw author|distributor",
	Short:     "Withdraw author or distributor earnings",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(ebook.RoleAuthor), string(ebook.RoleDistributor)},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.workflow.Submit(cmd.Context(), a.catalog.NewWithdraw(ebook.Role(args[0])))
		return report(cmd.OutOrStdout(), snap, err)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Look up the outcome of a transaction",
	Long: `Status polls for the receipt of a transaction, for example one whose
outcome was reported unknown, and prints whether it succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := evm.ParseTxHash(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), statusWait)
		defer cancel()
		receipt, err := a.client.WaitForReceipt(ctx, &types.PendingTx{Hash: hash}, cfg.GetConfirmations())
		out := cmd.OutOrStdout()
		var timeout *chains.TimeoutError
		if errors.As(err, &timeout) {
			fmt.Fprintf(out, "%s: not mined yet (looked for %s)\n", hash.Hex(), statusWait)
			return fmt.Errorf("no receipt for %s", hash.Hex())
		}
		if err != nil {
			return err
		}
		if !receipt.Succeeded() {
			fmt.Fprintf(out, "%s: reverted in block %d: %s\n", hash.Hex(), receipt.BlockNumber, receipt.Reason)
			return fmt.Errorf("transaction %s reverted", hash.Hex())
		}
		fmt.Fprintf(out, "%s: succeeded in block %d\n", hash.Hex(), receipt.BlockNumber)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&draft.Name, "name", "", "ebook title")
	publishCmd.Flags().StringVar(&draft.Author, "author", "", "author name")
	publishCmd.Flags().StringVar(&draft.Description, "description", "", "short description")
	publishCmd.Flags().StringVar(&draft.Category, "category", "", "category")
	publishCmd.Flags().StringVar(&draft.Price, "price", "", "price in sales-token units, at most two decimals")
	publishCmd.Flags().IntVar(&draft.CreatorPct, "creator-pct", constants.DefaultCreatorPct, "creator share in percent; the referrer gets the rest after the platform share")
	publishCmd.Flags().StringVar(&coverPath, "cover", "", "cover image file")
	publishCmd.Flags().StringVar(&bookPath, "file", "", "ebook file")

	purchaseCmd.Flags().StringVar(&referrerHex, "ref", "", "referrer address credited with the distributor share")
	purchaseCmd.Flags().BoolVar(&exclusive, "exclusive", false, "make an exclusive purchase")

	statusCmd.Flags().DurationVar(&statusWait, "wait", 30*time.Second, "how long to wait for the receipt")
}

// openFile opens an upload. A missing path yields an empty File so the draft
// validation reports which file is missing.
func openFile(path string) (ebook.File, func(), error) {
	if path == "" {
		return ebook.File{}, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return ebook.File{}, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return ebook.File{}, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return ebook.File{
		Name:        filepath.Base(path),
		ContentType: contentType(f, path),
		Size:        info.Size(),
		Body:        f,
	}, func() { f.Close() }, nil
}

func contentType(f *os.File, path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	head := make([]byte, 512)
	n, _ := f.Read(head)
	_, _ = f.Seek(0, 0)
	return http.DetectContentType(head[:n])
}
