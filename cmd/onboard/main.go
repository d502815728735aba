// Command onboard signs a wallet into the onboarding API from a terminal and
// keeps the encrypted session on disk.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vmcc-dao/backend/internal/chain"
	"github.com/vmcc-dao/backend/internal/config"
	"github.com/vmcc-dao/backend/internal/monitor"
	"github.com/vmcc-dao/backend/internal/notify"
	"github.com/vmcc-dao/backend/internal/onboarding"
	"github.com/vmcc-dao/backend/internal/session"
	"github.com/vmcc-dao/backend/internal/walletauth"
	"go.uber.org/zap"
)

const usage = `usage: onboard [flags] <command> [args]

commands:
  signin            sign in with WALLET_PRIVATE_KEY
  status            refresh on-chain facts and check the session
  sync              pull the backend profile into the session
  follow <postLink> record the X follow step
  signout           revoke the token and remove the session
`

type cli struct {
	apiURL      string
	dir         string
	keyDir      string
	rpcURL      string
	contract    string
	chainID     int64
	appName     string
	fingerprint string
	wallet      string
	sessionTTL  time.Duration
	staleness   time.Duration
	yes         bool
	verbose     bool
}

func main() {
	var c cli
	cfg := config.Load()
	home, _ := os.UserHomeDir()
	flag.StringVar(&c.apiURL, "api", envOr("VMCC_API_URL", "http://localhost:"+cfg.APIPort), "onboarding API base URL")
	flag.StringVar(&c.dir, "dir", filepath.Join(home, ".vmcc"), "session directory")
	flag.StringVar(&c.keyDir, "key-dir", defaultKeyDir(), "directory for the session key, must be outside -dir")
	flag.StringVar(&c.rpcURL, "rpc", cfg.ChainRPCURL, "EVM RPC URL for on-chain reads")
	flag.StringVar(&c.contract, "contract", cfg.GenesisContractAddress, "genesis contract address")
	flag.Int64Var(&c.chainID, "chain-id", cfg.ChainID, "chain id sent with verification")
	flag.StringVar(&c.appName, "app", cfg.AppName, "app name shown in the sign-in message")
	flag.DurationVar(&c.sessionTTL, "session-ttl", cfg.SessionTTL, "lifetime of the stored session")
	flag.DurationVar(&c.staleness, "staleness", cfg.ChainStaleness, "re-read on-chain facts older than this")
	flag.StringVar(&c.fingerprint, "fingerprint", "", "device fingerprint header")
	flag.StringVar(&c.wallet, "wallet", "", "status: connected wallet address (defaults to the key's address)")
	flag.BoolVar(&c.yes, "yes", false, "sign without asking")
	flag.BoolVar(&c.verbose, "v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := zap.NewNop()
	if c.verbose {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:], log); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, cmd string, args []string, log *zap.Logger) error {
	storage, err := session.NewFileStorage(c.dir)
	if err != nil {
		return err
	}
	store := session.NewStore(storage, c.sessionTTL, log)

	raw, err := loadSecret(c.keyDir, c.dir)
	if err != nil {
		return err
	}
	holder, writer := session.NewSecretHolder()
	writer.Provision(raw)
	defer writer.Clear()

	var reader chain.Reader
	if c.rpcURL != "" && c.contract != "" {
		r, client, err := chain.Dial(ctx, c.rpcURL, c.contract, log)
		if err != nil {
			return err
		}
		defer client.Close()
		reader = r
	}

	notifier := notify.New(notify.SinkFunc(printNotification), log)

	var signer walletauth.Signer
	if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" {
		ks, err := walletauth.KeySignerFromHex(key)
		if err != nil {
			return err
		}
		signer = ks
		if !c.yes {
			signer = walletauth.NewPromptSigner(ks, confirmOnTerminal)
		}
	}

	backend := walletauth.NewHTTPBackend(c.apiURL, log)
	a := walletauth.NewAuthenticator(
		backend,
		signer,
		reader,
		store,
		holder,
		notifier,
		walletauth.Config{AppName: c.appName, ChainID: c.chainID, Staleness: c.staleness},
		log,
	)

	actions := &terminalActions{store: store}
	mon := monitor.New(monitor.DefaultRoutes(), actions, notifier, log)

	switch cmd {
	case "signin":
		if signer == nil {
			return fmt.Errorf("WALLET_PRIVATE_KEY is not set")
		}
		out, err := a.SignIn(ctx, walletauth.ClientHeaders{Fingerprint: c.fingerprint})
		if err != nil {
			return err
		}
		printRecord(out.Record)
		fmt.Println("next step:", out.Step)
		return nil

	case "status":
		rec, refreshed, err := a.Reconcile(ctx)
		if err != nil {
			return err
		}
		if refreshed {
			fmt.Println("on-chain facts refreshed")
		}
		printRecord(rec)

		connected := c.wallet
		if connected == "" && signer != nil {
			connected = signer.Address()
		}
		step := onboarding.NextStep(onboarding.FromRecord(rec))
		snap := monitor.Snapshot{
			Wallet:  monitor.WalletState{Status: monitor.WalletConnected, Address: connected},
			Session: monitor.SessionState{Status: monitor.SessionAuthenticated, Address: rec.WalletAddress},
			Route:   "/onboarding/" + step,
		}
		if connected == "" {
			snap.Wallet.Status = monitor.WalletDisconnected
		}
		directives := mon.Evaluate(snap)
		for _, d := range directives {
			if d.Type == monitor.DirectiveSignOut {
				// local session is gone; make sure the token dies too
				if err := backend.Logout(ctx, rec.AccessToken); err != nil {
					log.Warn("revoke after forced sign-out failed", zap.Error(err))
				}
			}
		}
		if len(directives) == 0 {
			fmt.Println("next step:", step)
		}
		return nil

	case "sync":
		rec, err := a.SyncProfile(ctx)
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil

	case "follow":
		if len(args) != 1 {
			return fmt.Errorf("follow needs a post link")
		}
		rec, err := a.RecordFollow(ctx, args[0])
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil

	case "signout":
		if err := a.Logout(ctx); err != nil {
			log.Warn("logout request failed", zap.Error(err))
		}
		mon.SignOut(monitor.ReasonUser)
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// terminalActions tears the local session down. There is no connector to
// disconnect and no cache to clear in a terminal.
type terminalActions struct {
	store *session.Store
}

func (t *terminalActions) DestroySession() error   { return t.store.Destroy() }
func (t *terminalActions) DisconnectWallet() error { return nil }
func (t *terminalActions) Navigate(route string)   { fmt.Println("->", route) }
func (t *terminalActions) ClearCache()             {}

func confirmOnTerminal(_ context.Context, address, message string) (bool, error) {
	fmt.Printf("Sign this message with %s?\n\n%s\n\n[y/N] ", address, message)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func printNotification(n notify.Notification) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Status, n.Message)
}

func printRecord(r *session.Record) {
	if r == nil {
		fmt.Println("no session")
		return
	}
	fmt.Printf("wallet:    %s\n", r.WalletAddress)
	fmt.Printf("telegram:  joined=%t\n", r.TelegramJoined)
	fmt.Printf("x:         followed=%t verified=%t\n", r.TwitterFollowed, r.TwitterVerified())
	fmt.Printf("instagram: followed=%t\n", r.InstagramFollowed)
	if r.UplineID != nil {
		fmt.Printf("upline:    %d\n", *r.UplineID)
	}
	fmt.Printf("genesis:   claimed=%t\n", r.GenesisClaimed)
	if r.Flagged {
		fmt.Println("flagged:   true")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
