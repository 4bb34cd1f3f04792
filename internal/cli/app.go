package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/sigweihq/ebookpay/pkg/allowance"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/chains/evm"
	"github.com/sigweihq/ebookpay/pkg/ebook"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/sigweihq/ebookpay/pkg/ownership"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/sigweihq/ebookpay/pkg/wallet"
	"github.com/sigweihq/ebookpay/pkg/workflow"
	"github.com/spf13/cobra"
)

// app is the wired store for one command invocation
type app struct {
	client   *evm.Client
	catalog  *ebook.Catalog
	gate     *allowance.Gate
	bus      *cache.Bus
	session  *wallet.Session
	workflow *workflow.Workflow
	logger   *slog.Logger
}

// newApp connects to the configured network. withSigner loads the private key and
// opens a wallet session for it; read-only commands work without one.
func newApp(cmd *cobra.Command, withSigner bool) (*app, error) {
	ctx := cmd.Context()
	logger := slog.Default()

	network := cfg.GetNetwork(&flags)
	chainID, err := cfg.GetChainID(&flags)
	if err != nil {
		return nil, err
	}
	contracts, err := cfg.GetContracts()
	if err != nil {
		return nil, err
	}

	registry := chains.NewABIRegistry()
	if err := ebook.RegisterABIs(registry); err != nil {
		return nil, err
	}

	var signer evm.Signer
	if withSigner {
		key, err := cfg.GetPrivateKey(&flags)
		if err != nil {
			return nil, err
		}
		keySigner, err := evm.NewKeySigner(key)
		if err != nil {
			return nil, err
		}
		signer = keySigner
		if !assumeYes {
			signer = &evm.ConfirmingSigner{Signer: keySigner, Confirm: promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())}
		}
	}

	client, err := evm.NewClient(evm.Options{
		Network:         network,
		ChainID:         chainID,
		Endpoints:       evm.NewEndpointSet(network, chainID, cfg.GetRPCEndpoints(&flags), logger),
		Registry:        registry,
		Signer:          signer,
		Logger:          logger,
		ReadTimeout:     cfg.GetReadTimeout(),
		SimulateTimeout: cfg.GetSimulateTimeout(),
		ReceiptTimeout:  cfg.GetReceiptTimeout(),
	})
	if err != nil {
		return nil, err
	}

	resolver, err := metadata.NewResolver(metadata.Options{
		Gateway:  cfg.GetGateway(&flags),
		Attempts: cfg.GetGatewayAttempts(),
		Logger:   logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	catalog := ebook.NewCatalog(ebook.CatalogOptions{
		Client:    client,
		Contracts: contracts,
		Resolver:  resolver,
		Oracle:    ownership.NewOracle(client, contracts.NFTRef(), cfg.GetOwnershipStrategy(), logger),
		TTL:       cfg.GetCacheRefresh(),
		Logger:    logger,
	})
	gate := allowance.NewGate(client, nil, logger)
	bus := cache.NewBus(append(catalog.Stores(), gate.Store())...)

	a := &app{
		client:  client,
		catalog: catalog,
		gate:    gate,
		bus:     bus,
		logger:  logger,
	}

	var accounts workflow.AccountSource
	if signer != nil {
		provider := wallet.NewStaticProvider(uint64(chainID), signer.Address()).Connected()
		session, err := wallet.NewSession(ctx, provider, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		if err := session.RequireChain(uint64(chainID)); err != nil {
			session.Close()
			client.Close()
			return nil, err
		}
		a.session = session
		accounts = session
	}

	a.workflow = workflow.New(workflow.Options{
		Client:        client,
		Gate:          gate,
		Accounts:      accounts,
		Bus:           bus,
		Confirmations: cfg.GetConfirmations(),
		Logger:        logger,
	})
	a.workflow.Subscribe(progressPrinter(cmd.ErrOrStderr()))
	return a, nil
}

func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	a.client.Close()
}

// account returns the address given on the command line, else the configured signer's
func (a *app) account(args []string) (common.Address, error) {
	if len(args) > 0 && args[0] != "" {
		return types.ParseAddress(args[0])
	}
	if a.session != nil {
		if addr, ok := a.session.Account(); ok {
			return addr, nil
		}
	}
	key, err := cfg.GetPrivateKey(&flags)
	if err != nil {
		return common.Address{}, errors.New("pass an address or configure private_key")
	}
	signer, err := evm.NewKeySigner(key)
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address(), nil
}

func promptConfirm(in io.Reader, out io.Writer) evm.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, tx *ethtypes.Transaction) (bool, error) {
		fmt.Fprintf(out, "sign transaction to %s (nonce %d, gas %d, max fee %s wei)? [y/N] ",
			tx.To().Hex(), tx.Nonce(), tx.Gas(), tx.GasFeeCap())
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func progressPrinter(out io.Writer) func(workflow.Transition) {
	return func(t workflow.Transition) {
		switch t.To {
		case workflow.Simulating, workflow.AwaitingSignature:
			fmt.Fprintf(out, "  %s: %s\n", t.Phase, t.To)
		case workflow.Submitted:
			fmt.Fprintf(out, "  %s: submitted %s\n", t.Phase, t.Hash.Hex())
		case workflow.Confirmed:
			if t.Phase == workflow.PhaseApproval {
				fmt.Fprintf(out, "  approval: confirmed %s\n", t.Hash.Hex())
			}
		}
	}
}

// report prints the outcome of a workflow run and turns any failure into the command error
func report(out io.Writer, snap workflow.Snapshot, err error) error {
	switch snap.State {
	case workflow.Confirmed:
		block := uint64(0)
		if snap.Receipt != nil {
			block = snap.Receipt.BlockNumber
		}
		fmt.Fprintf(out, "%s confirmed: %s (block %d)\n", snap.Action, snap.TxHash.Hex(), block)
		return nil
	case workflow.Unknown:
		hash := snap.TxHash
		if hash == (common.Hash{}) {
			hash = snap.ApprovalHash
		}
		fmt.Fprintf(out, "%s outcome unknown: transaction %s may have been broadcast\n", snap.Action, hash.Hex())
		fmt.Fprintf(out, "check it with: ebookctl status %s\n", hash.Hex())
		return fmt.Errorf("outcome of %s is unknown", hash.Hex())
	}
	if err == nil {
		return fmt.Errorf("%s ended %s", snap.Action, snap.State)
	}
	return fmt.Errorf("%s %s: %s", snap.Action, snap.State, workflow.Reason(err))
}
