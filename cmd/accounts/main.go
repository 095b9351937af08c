// Command antigravity-accounts manages the accounts.json registry that the
// proxy server reads at startup: adding a Google account via OAuth,
// listing, removing, and verifying stored refresh tokens.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/account"
	"github.com/antigravity-core/antigravity-proxy-go/internal/auth"
	"github.com/antigravity-core/antigravity-proxy-go/internal/bootstrap"
	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
)

var serverPort = config.DefaultPort

func main() {
	args := os.Args[1:]
	command := "add"
	noBrowser := false

	for _, arg := range args {
		if arg == "--no-browser" {
			noBrowser = true
		} else if !strings.HasPrefix(arg, "-") && command == "add" {
			command = arg
		}
	}

	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			serverPort = n
		}
	}

	printBanner()

	pool := account.NewPool(cfgAccountPath())
	if err := pool.Load(); err != nil {
		fmt.Println("Error loading accounts:", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)

	switch command {
	case "add":
		ensureServerStopped()
		interactiveAdd(pool, scanner, noBrowser)
	case "list":
		displayAccounts(pool.All())
	case "clear":
		ensureServerStopped()
		clearAccounts(pool, scanner)
	case "verify":
		verifyAccounts(pool)
	case "remove":
		ensureServerStopped()
		interactiveRemove(pool, scanner)
	case "whoami":
		showIDESession()
	case "fingerprint":
		interactiveFingerprint(pool, scanner)
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run with \"help\" for usage information.")
	}
}

func cfgAccountPath() string {
	if p := os.Getenv("ACCOUNT_CONFIG_PATH"); p != "" {
		return p
	}
	return config.AccountConfigPath
}

func printBanner() {
	fmt.Println("Antigravity Proxy Account Manager")
	fmt.Println("(use --no-browser for headless onboarding)")
}

func printHelp() {
	fmt.Println("\nUsage:")
	fmt.Println("  antigravity-accounts add     Add a new account")
	fmt.Println("  antigravity-accounts list    List all accounts")
	fmt.Println("  antigravity-accounts verify  Verify account refresh tokens")
	fmt.Println("  antigravity-accounts remove  Remove an account")
	fmt.Println("  antigravity-accounts clear   Remove all accounts")
	fmt.Println("  antigravity-accounts whoami      Show the Antigravity IDE's signed-in session, if any")
	fmt.Println("  antigravity-accounts fingerprint Rotate or restore an account's device fingerprint")
	fmt.Println("  antigravity-accounts help    Show this help")
	fmt.Println("\nOptions:")
	fmt.Println("  --no-browser    Paste the authorization code manually (headless servers)")
}

func isServerRunning() bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", serverPort), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func ensureServerStopped() {
	if isServerRunning() {
		fmt.Printf("\nError: the proxy server is currently running on port %d.\n\n", serverPort)
		fmt.Println("Stop the server (Ctrl+C) before adding or managing accounts, so your")
		fmt.Println("changes are picked up cleanly on next start.")
		os.Exit(1)
	}
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", strings.ReplaceAll(url, "&", "^&"))
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Println("\nCould not open a browser automatically.")
		fmt.Println("Open this URL manually:", url)
	}
}

func displayAccounts(accounts []*account.Account) {
	if len(accounts) == 0 {
		fmt.Println("\nNo accounts configured.")
		return
	}
	fmt.Printf("\n%d account(s) saved:\n", len(accounts))
	for i, acc := range accounts {
		status := ""
		switch {
		case acc.IsInvalid:
			status = " (invalid)"
		case !acc.Enabled:
			status = " (disabled)"
		case acc.Status == account.StatusLimited:
			status = " (rate limited)"
		case acc.Status == account.StatusError:
			status = " (erroring)"
		}
		fmt.Printf("  %d. %s%s\n", i+1, acc.Email, status)
	}
}

func prompt(scanner *bufio.Scanner, message string) string {
	fmt.Print(message)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func addAccount(existing []*account.Account) *account.Account {
	fmt.Println("\n=== Add Google Account ===")

	result, err := auth.GetAuthorizationURL("")
	if err != nil {
		fmt.Println("Error generating auth URL:", err)
		return nil
	}

	fmt.Println("Opening browser for Google sign-in...")
	fmt.Println("(if it doesn't open, copy this URL manually)")
	fmt.Printf("   %s\n\n", result.URL)
	openBrowser(result.URL)

	fmt.Println("Waiting for authentication (timeout: 2 minutes)...")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	callbackServer := auth.NewCallbackServer(result.State, 120000)
	code, err := callbackServer.Start(ctx)
	if err != nil {
		fmt.Printf("\nAuthentication failed: %v\n", err)
		return nil
	}

	return finishAdd(ctx, existing, code, result.Verifier)
}

func addAccountNoBrowser(existing []*account.Account, scanner *bufio.Scanner) *account.Account {
	fmt.Println("\n=== Add Google Account (no-browser mode) ===")

	result, err := auth.GetAuthorizationURL("")
	if err != nil {
		fmt.Println("Error generating auth URL:", err)
		return nil
	}

	fmt.Println("Copy this URL and open it in a browser on any device:")
	fmt.Printf("   %s\n\n", result.URL)
	fmt.Println("After signing in, copy the full redirect URL or just the authorization code.")

	input := prompt(scanner, "Paste the callback URL or authorization code: ")
	if input == "" {
		fmt.Println("\nNo input provided.")
		return nil
	}

	extracted, err := auth.ExtractCodeFromInput(input)
	if err != nil {
		fmt.Printf("\n%v\n", err)
		return nil
	}
	if extracted.State != "" && extracted.State != result.State {
		fmt.Println("\nWarning: state mismatch detected. Proceeding anyway in manual mode.")
	}

	return finishAdd(context.Background(), existing, extracted.Code, result.Verifier)
}

func finishAdd(ctx context.Context, existing []*account.Account, code, verifier string) *account.Account {
	fmt.Println("\nExchanging authorization code for tokens...")
	flow, err := auth.CompleteOAuthFlow(ctx, code, verifier)
	if err != nil {
		fmt.Printf("\nAuthentication failed: %v\n", err)
		return nil
	}

	refreshComposite := auth.FormatRefreshParts(auth.RefreshParts{
		RefreshToken: flow.RefreshToken,
		ProjectID:    flow.ProjectID,
	})

	for _, acc := range existing {
		if acc.Email == flow.Email {
			fmt.Printf("\nAccount %s already exists; not adding a duplicate.\n", flow.Email)
			fmt.Println("Use \"remove\" then \"add\" to replace its tokens.")
			return nil
		}
	}

	fmt.Printf("\nSuccessfully authenticated: %s\n", flow.Email)
	if flow.ProjectID != "" {
		fmt.Printf("  Project: %s\n", flow.ProjectID)
	} else {
		fmt.Println("  Project will be discovered on first API request.")
	}

	return &account.Account{
		Email:        flow.Email,
		Source:       account.SourceOAuth,
		RefreshToken: refreshComposite,
		ProjectID:    flow.ProjectID,
		Enabled:      true,
		Status:       account.StatusOK,
	}
}

func interactiveAdd(pool *account.Pool, scanner *bufio.Scanner, noBrowser bool) {
	if noBrowser {
		fmt.Println("\nNo-browser mode: you will manually paste the authorization code.")
	}

	existing := pool.All()
	if len(existing) > 0 {
		displayAccounts(existing)
		choice := strings.ToLower(prompt(scanner, "\n(a)dd new, (r)emove existing, (f)resh start, or (e)xit? [a/r/f/e]: "))
		switch choice {
		case "r":
			interactiveRemove(pool, scanner)
			return
		case "f":
			fmt.Println("\nStarting fresh - existing accounts will be replaced.")
			for _, acc := range existing {
				pool.Remove(acc.Email)
			}
			if err := pool.Save(); err != nil {
				fmt.Println("Error clearing accounts:", err)
				return
			}
			existing = nil
		case "e":
			fmt.Println("\nExiting...")
			return
		case "a":
			fmt.Println("\nAdding to existing accounts.")
		default:
			fmt.Println("\nInvalid choice, defaulting to add.")
		}
	}

	if len(existing) >= config.MaxAccounts {
		fmt.Printf("\nMaximum of %d accounts reached.\n", config.MaxAccounts)
		return
	}

	var newAccount *account.Account
	if noBrowser {
		newAccount = addAccountNoBrowser(existing, scanner)
	} else {
		newAccount = addAccount(existing)
	}

	if newAccount != nil {
		if err := pool.Add(newAccount); err != nil {
			fmt.Println("Error saving account:", err)
		} else {
			fmt.Printf("\nSaved account %s\n", newAccount.Email)
		}
	}

	displayAccounts(pool.All())
	fmt.Println("\nTo add more accounts, run this command again.")
}

func interactiveRemove(pool *account.Pool, scanner *bufio.Scanner) {
	for {
		accounts := pool.All()
		if len(accounts) == 0 {
			fmt.Println("\nNo accounts to remove.")
			return
		}

		displayAccounts(accounts)
		fmt.Println("\nEnter account number to remove (or 0 to cancel)")
		answer := prompt(scanner, "> ")
		index, err := strconv.Atoi(answer)
		if err != nil || index < 0 || index > len(accounts) {
			fmt.Println("\nInvalid selection.")
			continue
		}
		if index == 0 {
			return
		}

		removed := accounts[index-1]
		confirm := prompt(scanner, fmt.Sprintf("\nRemove %s? [y/N]: ", removed.Email))
		if strings.ToLower(confirm) == "y" {
			if err := pool.Remove(removed.Email); err != nil {
				fmt.Println("Error removing account:", err)
			} else {
				fmt.Printf("\nRemoved %s\n", removed.Email)
			}
		} else {
			fmt.Println("\nCancelled.")
		}

		if strings.ToLower(prompt(scanner, "\nRemove another account? [y/N]: ")) != "y" {
			break
		}
	}
}

func clearAccounts(pool *account.Pool, scanner *bufio.Scanner) {
	accounts := pool.All()
	if len(accounts) == 0 {
		fmt.Println("No accounts to clear.")
		return
	}

	displayAccounts(accounts)
	if strings.ToLower(prompt(scanner, "\nRemove all accounts? [y/N]: ")) == "y" {
		for _, acc := range accounts {
			pool.Remove(acc.Email)
		}
		if err := pool.Save(); err != nil {
			fmt.Println("Error clearing accounts:", err)
		} else {
			fmt.Println("All accounts removed.")
		}
	} else {
		fmt.Println("Cancelled.")
	}
}

// showIDESession reports the account the Antigravity IDE itself is signed
// into, as a convenience when deciding which Google account to onboard here.
// It only reads state.vscdb; it never feeds that session into accounts.json.
func showIDESession() {
	session, err := bootstrap.ReadIDESession("")
	if err != nil {
		fmt.Println("No Antigravity IDE session found:", err)
		return
	}
	fmt.Printf("\nAntigravity IDE is signed in as: %s", session.Email)
	if session.Name != "" {
		fmt.Printf(" (%s)", session.Name)
	}
	fmt.Println()
}

// interactiveFingerprint lets an operator rotate a suspected-flagged device
// identity (or roll back a rotation that didn't help) without touching the
// account's OAuth state.
func interactiveFingerprint(pool *account.Pool, scanner *bufio.Scanner) {
	accounts := pool.All()
	if len(accounts) == 0 {
		fmt.Println("\nNo accounts configured.")
		return
	}

	displayAccounts(accounts)
	answer := prompt(scanner, "\nEnter account number (or 0 to cancel): ")
	index, err := strconv.Atoi(answer)
	if err != nil || index < 0 || index > len(accounts) {
		fmt.Println("\nInvalid selection.")
		return
	}
	if index == 0 {
		return
	}
	acc := accounts[index-1]

	fmt.Printf("\nAccount: %s\n", acc.Email)
	if acc.Fingerprint != nil {
		fmt.Printf("  Current device: %s (created %s)\n", acc.Fingerprint.DeviceID,
			time.UnixMilli(acc.Fingerprint.CreatedAtMs).Format(time.RFC3339))
	}
	if len(acc.FingerprintHistory) > 0 {
		fmt.Println("  History (newest first):")
		for i, rec := range acc.FingerprintHistory {
			fmt.Printf("    %d. %s (%s, %s)\n", i, rec.Fingerprint.DeviceID, rec.Reason,
				time.UnixMilli(rec.TimestampMs).Format(time.RFC3339))
		}
	}

	choice := strings.ToLower(prompt(scanner, "\n(r)egenerate, re(s)tore from history, or (e)xit? [r/s/e]: "))
	switch choice {
	case "r":
		fp, err := pool.RegenerateFingerprint(acc.Email)
		if err != nil {
			fmt.Println("Error regenerating fingerprint:", err)
			return
		}
		fmt.Printf("\nNew device identity: %s\n", fp.DeviceID)
	case "s":
		if len(acc.FingerprintHistory) == 0 {
			fmt.Println("\nNo history to restore from.")
			return
		}
		answer := prompt(scanner, "History index to restore: ")
		histIndex, err := strconv.Atoi(answer)
		if err != nil {
			fmt.Println("\nInvalid index.")
			return
		}
		fp, err := pool.RestoreFingerprint(acc.Email, histIndex)
		if err != nil {
			fmt.Println("Error restoring fingerprint:", err)
			return
		}
		fmt.Printf("\nRestored device identity: %s\n", fp.DeviceID)
	default:
		fmt.Println("\nCancelled.")
	}
}

func verifyAccounts(pool *account.Pool) {
	accounts := pool.All()
	if len(accounts) == 0 {
		fmt.Println("No accounts to verify.")
		return
	}

	fmt.Println("\nVerifying accounts...")
	ctx := context.Background()
	for _, acc := range accounts {
		result, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			fmt.Printf("  FAIL %s - %v\n", acc.Email, err)
			continue
		}
		email, err := auth.GetUserEmail(ctx, result.AccessToken)
		if err != nil {
			fmt.Printf("  FAIL %s - %v\n", acc.Email, err)
			continue
		}
		fmt.Printf("  OK   %s\n", email)
	}
}
