package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"escrowd/crypto"
)

func runCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "create-default":
		return runCreateDefault(args[1:], stdout, stderr)
	case "set-price":
		return runSetPrice(args[1:], stdout, stderr)
	case "set-title":
		return runSetField(args[1:], stdout, stderr, "escrow_setTitle", "title")
	case "set-category":
		return runSetField(args[1:], stdout, stderr, "escrow_setCategory", "category")
	case "set-ships-from":
		return runSetField(args[1:], stdout, stderr, "escrow_setShipsFrom", "ships-from")
	case "set-files":
		return runSetField(args[1:], stdout, stderr, "escrow_setAttachedFiles", "files")
	case "purchase":
		return runPurchase(args[1:], stdout, stderr)
	case "confirm":
		return runActorCall(args[1:], stdout, stderr, "escrow_confirm", true)
	case "reject-buyer":
		return runActorCall(args[1:], stdout, stderr, "escrow_rejectBuyer", true)
	case "cancel":
		return runActorCall(args[1:], stdout, stderr, "escrow_cancel", true)
	case "withdraw":
		return runActorCall(args[1:], stdout, stderr, "escrow_withdraw", true)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "contact":
		return runContact(args[1:], stdout, stderr)
	case "pending":
		return runPending(args[1:], stdout, stderr)
	case "account":
		return runAccount(args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrowd-cli <command> [flags]

Commands:
  create          Create a listing backed by the seller deposit
  create-default  Create a listing deriving the price from the deposit
  set-price       Change the price of an unsold listing
  set-title       Change the title of an unsold listing
  set-category    Change the category of an unsold listing
  set-ships-from  Change the ships-from field of an unsold listing
  set-files       Attach a file reference to a listing
  purchase        Buy a listing, locking the buyer deposit
  confirm         Confirm receipt as the buyer
  reject-buyer    Reject the current buyer and relist
  cancel          Cancel the listing as the seller
  withdraw        Pull the caller's pending balance
  get             Fetch listing details by id
  contact         Fetch the buyer contact blob
  pending         Show an account's pending balance on a listing
  account         Show an account's spendable balance
  keygen          Generate a fresh keypair and print its address
`)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func printResult(stdout, stderr io.Writer, result json.RawMessage, rpcErr *rpcError, err error) int {
	if err != nil {
		return printError(stderr, err.Error())
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "Error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "  %s\n", string(rpcErr.Data))
		}
		return 1
	}
	var pretty interface{}
	if jsonErr := json.Unmarshal(result, &pretty); jsonErr == nil {
		encoded, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintln(stdout, string(encoded))
	} else {
		fmt.Fprintln(stdout, string(result))
	}
	return 0
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		seller    string
		price     string
		title     string
		category  string
		shipsFrom string
		nonce     string
		value     string
	)
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.StringVar(&price, "price", "", "listing price")
	fs.StringVar(&title, "title", "", "listing title")
	fs.StringVar(&category, "category", "", "optional category")
	fs.StringVar(&shipsFrom, "ships-from", "", "optional ships-from")
	fs.StringVar(&nonce, "nonce", "", "hex nonce for the listing id")
	fs.StringVar(&value, "value", "", "attached deposit (2x price)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if seller == "" {
		return printError(stderr, "--seller is required")
	}
	if price == "" {
		return printError(stderr, "--price is required")
	}
	if title == "" {
		return printError(stderr, "--title is required")
	}
	if nonce == "" {
		return printError(stderr, "--nonce is required")
	}
	if value == "" {
		return printError(stderr, "--value is required")
	}
	result, rpcErr, err := rpcCall("escrow_create", map[string]string{
		"seller":    seller,
		"price":     price,
		"title":     title,
		"category":  category,
		"shipsFrom": shipsFrom,
		"nonce":     nonce,
		"value":     value,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runCreateDefault(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create-default", stderr)
	var (
		seller string
		nonce  string
		value  string
	)
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.StringVar(&nonce, "nonce", "", "hex nonce for the listing id")
	fs.StringVar(&value, "value", "", "attached deposit, must be an even amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if seller == "" {
		return printError(stderr, "--seller is required")
	}
	if nonce == "" {
		return printError(stderr, "--nonce is required")
	}
	if value == "" {
		return printError(stderr, "--value is required")
	}
	result, rpcErr, err := rpcCall("escrow_createDefault", map[string]string{
		"seller": seller,
		"nonce":  nonce,
		"value":  value,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSetPrice(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-price", stderr)
	var (
		id       string
		caller   string
		newPrice string
		value    string
	)
	fs.StringVar(&id, "id", "", "listing id (hex)")
	fs.StringVar(&caller, "caller", "", "seller bech32 address")
	fs.StringVar(&newPrice, "new-price", "", "new listing price")
	fs.StringVar(&value, "value", "", "top-up deposit when raising the price")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	if caller == "" {
		return printError(stderr, "--caller is required")
	}
	if newPrice == "" {
		return printError(stderr, "--new-price is required")
	}
	result, rpcErr, err := rpcCall("escrow_setPrice", map[string]string{
		"id":       id,
		"caller":   caller,
		"newPrice": newPrice,
		"value":    value,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSetField(args []string, stdout, stderr io.Writer, method, flagName string) int {
	fs := newFlagSet(flagName, stderr)
	var (
		id     string
		caller string
		value  string
	)
	fs.StringVar(&id, "id", "", "listing id (hex)")
	fs.StringVar(&caller, "caller", "", "seller bech32 address")
	fs.StringVar(&value, "value", "", "new field value")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	if caller == "" {
		return printError(stderr, "--caller is required")
	}
	result, rpcErr, err := rpcCall(method, map[string]string{
		"id":     id,
		"caller": caller,
		"value":  value,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runPurchase(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("purchase", stderr)
	var (
		id      string
		caller  string
		contact string
		value   string
	)
	fs.StringVar(&id, "id", "", "listing id (hex)")
	fs.StringVar(&caller, "caller", "", "buyer bech32 address")
	fs.StringVar(&contact, "contact", "", "contact info, hex encoded unless --contact-text")
	contactText := fs.Bool("contact-text", false, "treat --contact as plain text")
	fs.StringVar(&value, "value", "", "attached payment (2x price)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	if caller == "" {
		return printError(stderr, "--caller is required")
	}
	if value == "" {
		return printError(stderr, "--value is required")
	}
	if *contactText {
		contact = hex.EncodeToString([]byte(contact))
	}
	result, rpcErr, err := rpcCall("escrow_purchase", map[string]string{
		"id":          id,
		"caller":      caller,
		"contactInfo": contact,
		"value":       value,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runActorCall(args []string, stdout, stderr io.Writer, method string, requireAuth bool) int {
	fs := newFlagSet(method, stderr)
	var (
		id     string
		caller string
	)
	fs.StringVar(&id, "id", "", "listing id (hex)")
	fs.StringVar(&caller, "caller", "", "caller bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	if caller == "" {
		return printError(stderr, "--caller is required")
	}
	result, rpcErr, err := rpcCall(method, map[string]string{
		"id":     id,
		"caller": caller,
	}, requireAuth)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "listing id (hex)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	result, rpcErr, err := rpcCall("escrow_get", map[string]string{"id": id}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runContact(args []string, stdout, stderr io.Writer) int {
	return runActorCall(args, stdout, stderr, "escrow_getContactInfo", false)
}

func runPending(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pending", stderr)
	var (
		id      string
		account string
	)
	fs.StringVar(&id, "id", "", "listing id (hex)")
	fs.StringVar(&account, "account", "", "account bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		return printError(stderr, "--id is required")
	}
	if account == "" {
		return printError(stderr, "--account is required")
	}
	result, rpcErr, err := rpcCall("escrow_pendingBalance", map[string]string{
		"id":      id,
		"account": account,
	}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runAccount(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("account", stderr)
	var address string
	fs.StringVar(&address, "address", "", "account bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" {
		return printError(stderr, "--address is required")
	}
	result, rpcErr, err := rpcCall("escrow_getAccount", map[string]string{"address": address}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runKeygen(stdout, stderr io.Writer) int {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "address:     %s\n", key.PubKey().Address().String())
	fmt.Fprintf(stdout, "private key: %s\n", hex.EncodeToString(key.Bytes()))
	return 0
}
