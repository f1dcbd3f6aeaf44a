package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const defaultNode = "http://localhost:8470"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "markets":
		runGet(os.Args[2:], "/v1/markets", nil)
	case "market":
		runGetWithArg(os.Args[2:], "market id", func(id string) string {
			return "/v1/markets/" + id
		})
	case "rates":
		runGetWithArg(os.Args[2:], "market id", func(id string) string {
			return "/v1/markets/" + id + "/rates"
		})
	case "position":
		runGetWithArg(os.Args[2:], "user address", func(addr string) string {
			return "/v1/positions/" + addr
		})
	case "positions":
		runPositions(os.Args[2:])
	case "stats":
		runGet(os.Args[2:], "/v1/stats", nil)
	case "transactions":
		runGet(os.Args[2:], "/v1/transactions", nil)
	case "liquidations":
		runGet(os.Args[2:], "/v1/liquidations", nil)
	case "supply":
		runAmountOp(os.Args[2:], "supply")
	case "withdraw":
		runAmountOp(os.Args[2:], "withdraw")
	case "borrow":
		runAmountOp(os.Args[2:], "borrow")
	case "repay":
		runAmountOp(os.Args[2:], "repay")
	case "liquidate":
		runLiquidate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: lendctl <command> [flags]

Commands:
  markets                        List all markets
  market <id>                    Show one market
  rates <id>                     Show a market's rate history
  position <address>             Show a user's position summary
  positions -status <s>          List positions by health status
  stats                          Protocol-wide statistics
  transactions                   Recent transactions
  liquidations                   Recent liquidation events
  supply|withdraw|borrow|repay   Execute a balance mutation
  liquidate                      Liquidate an unhealthy position

Set -node or LENDCTL_NODE to point at a lendingd instance.`)
}

func nodeFlag(fs *flag.FlagSet) *string {
	node := defaultNode
	if env := strings.TrimSpace(os.Getenv("LENDCTL_NODE")); env != "" {
		node = env
	}
	return fs.String("node", node, "Base URL of the lendingd HTTP API")
}

func runGet(args []string, path string, query map[string]string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	node := nodeFlag(fs)
	fs.Parse(args)
	getAndPrint(*node, path, query)
}

func runGetWithArg(args []string, what string, path func(string) string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	node := nodeFlag(fs)
	fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("%s is required", what)
	}
	getAndPrint(*node, path(fs.Arg(0)), nil)
}

func runPositions(args []string) {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	node := nodeFlag(fs)
	status := fs.String("status", "liquidatable", "Health status filter (liquidatable or at_risk)")
	fs.Parse(args)
	getAndPrint(*node, "/v1/positions", map[string]string{"status": *status})
}

func runAmountOp(args []string, op string) {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	node := nodeFlag(fs)
	user := fs.String("user", "", "User address")
	market := fs.String("market", "", "Market identifier")
	amount := fs.String("amount", "", "WAD-scaled amount")
	collateral := fs.Bool("collateral", false, "Flag supplied funds as collateral (supply only)")
	mode := fs.String("rate-mode", "", "Rate mode for borrows (variable or stable)")
	fs.Parse(args)
	if *user == "" || *market == "" || *amount == "" {
		fatalf("-user, -market and -amount are required")
	}
	body := map[string]any{
		"userAddress": *user,
		"marketId":    *market,
		"amount":      *amount,
	}
	if op == "supply" {
		body["asCollateral"] = *collateral
	}
	if op == "borrow" && *mode != "" {
		body["rateMode"] = *mode
	}
	postAndPrint(*node, "/v1/"+op, body)
}

func runLiquidate(args []string) {
	fs := flag.NewFlagSet("liquidate", flag.ExitOnError)
	node := nodeFlag(fs)
	liquidator := fs.String("liquidator", "", "Liquidator address")
	borrower := fs.String("borrower", "", "Borrower address")
	debtMarket := fs.String("debt-market", "", "Market holding the debt to repay")
	collateralMarket := fs.String("collateral-market", "", "Market holding the collateral to seize")
	cover := fs.String("cover", "", "WAD-scaled debt to cover (empty for the maximum)")
	fs.Parse(args)
	if *liquidator == "" || *borrower == "" || *debtMarket == "" || *collateralMarket == "" {
		fatalf("-liquidator, -borrower, -debt-market and -collateral-market are required")
	}
	body := map[string]any{
		"liquidatorAddress":  *liquidator,
		"borrowerAddress":    *borrower,
		"debtMarketId":       *debtMarket,
		"collateralMarketId": *collateralMarket,
	}
	if *cover != "" {
		body["debtToCover"] = *cover
	}
	postAndPrint(*node, "/v1/liquidate", body)
}

func getAndPrint(node, path string, query map[string]string) {
	url := strings.TrimRight(node, "/") + path
	if len(query) > 0 {
		parts := make([]string, 0, len(query))
		for k, v := range query {
			parts = append(parts, k+"="+v)
		}
		url += "?" + strings.Join(parts, "&")
	}
	resp, err := http.Get(url)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	printResponse(resp)
}

func postAndPrint(node, path string, body map[string]any) {
	payload, _ := json.Marshal(body)
	url := strings.TrimRight(node, "/") + path
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		fatalf("request failed: %v", err)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		fatalf("decode response: %v", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
	} else {
		fmt.Println(buf.String())
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
