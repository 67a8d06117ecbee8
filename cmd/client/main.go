// Command bourse-client is a CLI exercising the bourse wire protocol
// end-to-end: login, fund/inventory management, order posting and
// cancellation, and status queries.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/rishavpaul/bourse/internal/protocol"
)

func main() {
	server := flag.String("server", "localhost:6190", "bourse server address")

	loginCmd := flag.NewFlagSet("login", flag.ExitOnError)
	loginName := loginCmd.String("name", "", "trader name")

	depositCmd := flag.NewFlagSet("deposit", flag.ExitOnError)
	depositName := depositCmd.String("name", "", "trader name")
	depositAmount := depositCmd.Uint("amount", 0, "amount to deposit")

	withdrawCmd := flag.NewFlagSet("withdraw", flag.ExitOnError)
	withdrawName := withdrawCmd.String("name", "", "trader name")
	withdrawAmount := withdrawCmd.Uint("amount", 0, "amount to withdraw")

	escrowCmd := flag.NewFlagSet("escrow", flag.ExitOnError)
	escrowName := escrowCmd.String("name", "", "trader name")
	escrowQty := escrowCmd.Uint("quantity", 0, "quantity to escrow")

	releaseCmd := flag.NewFlagSet("release", flag.ExitOnError)
	releaseName := releaseCmd.String("name", "", "trader name")
	releaseQty := releaseCmd.Uint("quantity", 0, "quantity to release")

	buyCmd := flag.NewFlagSet("buy", flag.ExitOnError)
	buyName := buyCmd.String("name", "", "trader name")
	buyQty := buyCmd.Uint("quantity", 0, "quantity")
	buyPrice := buyCmd.Uint("price", 0, "limit price")

	sellCmd := flag.NewFlagSet("sell", flag.ExitOnError)
	sellName := sellCmd.String("name", "", "trader name")
	sellQty := sellCmd.Uint("quantity", 0, "quantity")
	sellPrice := sellCmd.Uint("price", 0, "limit price")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelName := cancelCmd.String("name", "", "trader name")
	cancelOrder := cancelCmd.Uint("order", 0, "order id to cancel")

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusName := statusCmd.String("name", "", "trader name")

	demoCmd := flag.NewFlagSet("demo", flag.ExitOnError)
	demoBuyer := demoCmd.String("buyer", "alice", "buyer trader name")
	demoSeller := demoCmd.String("seller", "bob", "seller trader name")
	demoQty := demoCmd.Uint("quantity", 5, "quantity to cross")
	demoBid := demoCmd.Uint("bid", 20, "buyer's limit price")
	demoAsk := demoCmd.Uint("ask", 15, "seller's limit price")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	flag.Parse()

	switch os.Args[1] {
	case "login":
		loginCmd.Parse(os.Args[2:])
		run(*server, *loginName, nil)
	case "deposit":
		depositCmd.Parse(os.Args[2:])
		run(*server, *depositName, []protocol.Header{{Type: protocol.TypeDeposit, Size: 4}}, protocol.EncodeUint32(uint32(*depositAmount)))
	case "withdraw":
		withdrawCmd.Parse(os.Args[2:])
		run(*server, *withdrawName, []protocol.Header{{Type: protocol.TypeWithdraw, Size: 4}}, protocol.EncodeUint32(uint32(*withdrawAmount)))
	case "escrow":
		escrowCmd.Parse(os.Args[2:])
		run(*server, *escrowName, []protocol.Header{{Type: protocol.TypeEscrow, Size: 4}}, protocol.EncodeUint32(uint32(*escrowQty)))
	case "release":
		releaseCmd.Parse(os.Args[2:])
		run(*server, *releaseName, []protocol.Header{{Type: protocol.TypeRelease, Size: 4}}, protocol.EncodeUint32(uint32(*releaseQty)))
	case "buy":
		buyCmd.Parse(os.Args[2:])
		payload := protocol.EncodeOrderRequest(uint32(*buyQty), uint32(*buyPrice))
		run(*server, *buyName, []protocol.Header{{Type: protocol.TypeBuy, Size: uint16(len(payload))}}, payload)
	case "sell":
		sellCmd.Parse(os.Args[2:])
		payload := protocol.EncodeOrderRequest(uint32(*sellQty), uint32(*sellPrice))
		run(*server, *sellName, []protocol.Header{{Type: protocol.TypeSell, Size: uint16(len(payload))}}, payload)
	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		run(*server, *cancelName, []protocol.Header{{Type: protocol.TypeCancel, Size: 4}}, protocol.EncodeUint32(uint32(*cancelOrder)))
	case "status":
		statusCmd.Parse(os.Args[2:])
		run(*server, *statusName, []protocol.Header{{Type: protocol.TypeStatus}})
	case "demo":
		demoCmd.Parse(os.Args[2:])
		runDemo(*server, *demoBuyer, *demoSeller, uint32(*demoQty), uint32(*demoBid), uint32(*demoAsk))
	default:
		printUsage()
		os.Exit(1)
	}
}

// runDemo narrates a simple cross: the seller deposits/escrows inventory,
// the buyer deposits cash, both post resting orders, and the demo prints
// every response including the async trade notifications fanned out by
// the matchmaker.
func runDemo(server, buyer, seller string, quantity, bid, ask uint32) {
	fmt.Printf("--- demo: %s buys %d @ %d, %s sells @ %d ---\n", buyer, quantity, bid, seller, ask)

	sellerConn, err := net.Dial("tcp", server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial %s: %v\n", server, err)
		os.Exit(1)
	}
	defer sellerConn.Close()
	fmt.Printf("[%s] login\n", seller)
	mustSend(sellerConn, protocol.Header{Type: protocol.TypeLogin, Size: uint16(len(seller))}, []byte(seller))
	printResponse(sellerConn)
	fmt.Printf("[%s] escrow %d\n", seller, quantity)
	mustSend(sellerConn, protocol.Header{Type: protocol.TypeEscrow, Size: 4}, protocol.EncodeUint32(quantity))
	printResponse(sellerConn)

	buyerConn, err := net.Dial("tcp", server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial %s: %v\n", server, err)
		os.Exit(1)
	}
	defer buyerConn.Close()
	fmt.Printf("[%s] login\n", buyer)
	mustSend(buyerConn, protocol.Header{Type: protocol.TypeLogin, Size: uint16(len(buyer))}, []byte(buyer))
	printResponse(buyerConn)
	deposit := quantity * bid
	fmt.Printf("[%s] deposit %d\n", buyer, deposit)
	mustSend(buyerConn, protocol.Header{Type: protocol.TypeDeposit, Size: 4}, protocol.EncodeUint32(deposit))
	printResponse(buyerConn)

	fmt.Printf("[%s] sell %d @ %d\n", seller, quantity, ask)
	mustSend(sellerConn, protocol.Header{Type: protocol.TypeSell, Size: 8}, protocol.EncodeOrderRequest(quantity, ask))
	printResponse(sellerConn)

	fmt.Printf("[%s] buy %d @ %d\n", buyer, quantity, bid)
	mustSend(buyerConn, protocol.Header{Type: protocol.TypeBuy, Size: 8}, protocol.EncodeOrderRequest(quantity, bid))
	printResponse(buyerConn)

	fmt.Printf("[%s] awaiting trade notification\n", buyer)
	for t := printResponse(buyerConn); t != 0 && t != protocol.TypeBought; t = printResponse(buyerConn) {
	}
	fmt.Printf("[%s] awaiting trade notification\n", seller)
	for t := printResponse(sellerConn); t != 0 && t != protocol.TypeSold; t = printResponse(sellerConn) {
	}
}

func mustSend(conn net.Conn, hdr protocol.Header, payload []byte) {
	if err := protocol.Send(conn, hdr, payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: send: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bourse-client

Usage:
  bourse-client <command> [options]

Commands:
  login     Log in as a trader
  deposit   Deposit funds
  withdraw  Withdraw funds
  escrow    Escrow inventory
  release   Release escrowed inventory
  buy       Post a buy order
  sell      Post a sell order
  cancel    Cancel an order
  status    Query account/market status
  demo      Run a scripted two-trader cross against a live server

Every command implicitly logs in as -name before sending its request.`)
}

// run connects, logs in as name, sends any additional frames (paired
// header/payload by position), and prints each response received.
func run(server, name string, headers []protocol.Header, payloads ...[]byte) {
	if name == "" {
		fmt.Fprintln(os.Stderr, "error: -name is required")
		os.Exit(1)
	}
	conn, err := net.Dial("tcp", server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial %s: %v\n", server, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := protocol.Send(conn, protocol.Header{Type: protocol.TypeLogin, Size: uint16(len(name))}, []byte(name)); err != nil {
		fmt.Fprintf(os.Stderr, "error: login: %v\n", err)
		os.Exit(1)
	}
	printResponse(conn)

	for i, hdr := range headers {
		var payload []byte
		if i < len(payloads) {
			payload = payloads[i]
		}
		if err := protocol.Send(conn, hdr, payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: send: %v\n", err)
			os.Exit(1)
		}
		printResponse(conn)
	}
}

// printResponse prints the next frame received on conn and returns its
// type, or 0 if nothing could be received.
func printResponse(conn net.Conn) uint8 {
	hdr, payload, err := protocol.Recv(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: recv: %v\n", err)
		return 0
	}
	switch hdr.Type {
	case protocol.TypeAck:
		status, err := protocol.DecodeStatusInfo(payload)
		if err != nil {
			fmt.Println("ACK (malformed status)")
			return hdr.Type
		}
		fmt.Printf("ACK orderid=%d quantity=%d balance=%d inventory=%d bid=%d ask=%d last=%d\n",
			status.OrderID, status.Quantity, status.Balance, status.Inventory, status.Bid, status.Ask, status.Last)
	case protocol.TypeNack:
		fmt.Println("NACK")
	default:
		fmt.Printf("notification type=%d\n", hdr.Type)
	}
	return hdr.Type
}
