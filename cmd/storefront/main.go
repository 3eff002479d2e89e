// Command storefront is a terminal client for the storefront backend. It signs in with -token,
// runs one command and prints the notices the command produced.
//
//	storefront -token user1@x.com add <productId> 2
//	storefront -token user1@x.com checkout -name "Rahim" -phone 0170 -address "12 Lake Rd"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	storefront "github.com/c0deZ3R0/go-storefront-sync"
	"github.com/c0deZ3R0/go-storefront-sync/checkout"
	"github.com/c0deZ3R0/go-storefront-sync/config"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
)

var errUsage = errors.New("usage")

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "storefront:", err)
		}
		os.Exit(1)
	}
}

type command struct {
	needsSignIn bool
	run         func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"products": {run: (*app).products},
	"cart":     {needsSignIn: true, run: (*app).cart},
	"add":      {needsSignIn: true, run: (*app).add},
	"remove":   {needsSignIn: true, run: (*app).remove},
	"qty":      {needsSignIn: true, run: (*app).quantity},
	"clear":    {needsSignIn: true, run: (*app).clear},
	"wishlist": {needsSignIn: true, run: (*app).wishlist},
	"toggle":   {needsSignIn: true, run: (*app).toggle},
	"checkout": {needsSignIn: true, run: (*app).checkout},
	"orders":   {needsSignIn: true, run: (*app).orders},
}

var usages = map[string]string{
	"products": "products",
	"cart":     "cart",
	"add":      "add <productId> [quantity]",
	"remove":   "remove <lineId>",
	"qty":      "qty <lineId> <quantity>",
	"clear":    "clear [cart|wishlist]",
	"wishlist": "wishlist",
	"toggle":   "toggle <productId>",
	"checkout": "checkout -name N -phone P -address A [-city C] [-method cod|bkash|nagad|rocket|bank] [-sender S -trx T]",
	"orders":   "orders",
}

func usageError(name string) error {
	return fmt.Errorf("usage: storefront %s", usages[name])
}

type app struct {
	sf      *storefront.Storefront
	out     io.Writer
	notices *notify.Recorder
}

// run executes one command line. extra options are applied after the configuration.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, extra ...storefront.Option) error {
	fs := flag.NewFlagSet("storefront", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("STOREFRONT_CONFIG"), "YAML or JSON config file")
	token := fs.String("token", os.Getenv("STOREFRONT_TOKEN"), "ID token to sign in with (an email for the development authenticator)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: storefront [-config file] [-token token] <command> [args]")
		fmt.Fprintln(stderr, "\ncommands:")
		names := make([]string, 0, len(usages))
		for name := range usages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(stderr, "  "+usages[name])
		}
		fmt.Fprintln(stderr, "\nflags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.Log.Output = stderr

	rec := &notify.Recorder{}
	opts := append([]storefront.Option{storefront.WithNotifier(rec)}, extra...)
	sf, err := storefront.FromConfig(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer sf.Close()

	a := &app{sf: sf, out: stdout, notices: rec}
	defer a.printNotices()

	if err := sf.Start(ctx); err != nil && fs.Arg(0) == "products" {
		return err
	}
	if *token != "" {
		if _, err := sf.Identity.SignIn(ctx, *token); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	} else if cmd.needsSignIn {
		return fmt.Errorf("%s needs a signed-in user, pass -token", fs.Arg(0))
	}
	return cmd.run(a, ctx, fs.Args()[1:])
}

func (a *app) printNotices() {
	for _, n := range a.notices.Drain() {
		mark := "ok"
		if n.Level == notify.LevelFailure {
			mark = "!!"
		}
		fmt.Fprintf(a.out, "[%s] %s\n", mark, n.Message)
	}
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func (a *app) products(ctx context.Context, _ []string) error {
	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK")
	for _, p := range a.sf.Catalog.Products() {
		stock := "in stock"
		if !p.Available() {
			stock = "out of stock"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.EffectivePrice(), stock)
	}
	return tw.Flush()
}

func (a *app) product(id string) (model.Product, error) {
	p, ok := a.sf.Catalog.Product(id)
	if !ok {
		return model.Product{}, fmt.Errorf("no product %q", id)
	}
	return p, nil
}

func (a *app) cart(ctx context.Context, _ []string) error {
	lines := a.sf.Cart.Lines()
	if len(lines) == 0 {
		fmt.Fprintln(a.out, "Your cart is empty.")
		return nil
	}
	tw := a.table()
	fmt.Fprintln(tw, "LINE\tPRODUCT\tQTY\tPRICE\tSUBTOTAL")
	for _, l := range lines {
		l = a.sf.Catalog.FreshenCartLine(l)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", l.ID, l.Name, l.EffectiveQuantity(), l.Price, l.Subtotal())
	}
	fmt.Fprintf(tw, "\t\t%d\t\t%s\n", a.sf.Cart.Count(), a.sf.Cart.Subtotal())
	return tw.Flush()
}

func (a *app) add(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("add")
	}
	p, err := a.product(args[0])
	if err != nil {
		return err
	}
	qty := 1
	if len(args) == 2 {
		if qty, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
	}
	return a.sf.Cart.AddToCart(ctx, p, qty)
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("remove")
	}
	return a.sf.Cart.RemoveFromCart(ctx, args[0])
}

func (a *app) quantity(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("qty")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	return a.sf.Cart.UpdateQuantity(ctx, args[0], n)
}

func (a *app) clear(ctx context.Context, args []string) error {
	what := "cart"
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "cart":
		return a.sf.Cart.ClearCart(ctx)
	case "wishlist":
		return a.sf.Wishlist.ClearWishlist(ctx)
	default:
		return usageError("clear")
	}
}

func (a *app) wishlist(ctx context.Context, _ []string) error {
	entries := a.sf.Wishlist.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "Your wishlist is empty.")
		return nil
	}
	tw := a.table()
	fmt.Fprintln(tw, "PRODUCT\tNAME\tPRICE\tSTOCK")
	for _, e := range entries {
		e = a.sf.Catalog.FreshenWishlistEntry(e)
		stock := "in stock"
		if !e.InStock {
			stock = "out of stock"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ProductID, e.Name, e.Price, stock)
	}
	return tw.Flush()
}

func (a *app) toggle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("toggle")
	}
	p, err := a.product(args[0])
	if err != nil {
		return err
	}
	_, err = a.sf.Wishlist.AddToWishlist(ctx, p)
	return err
}

func (a *app) checkout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(a.out)
	var d checkout.Details
	var method string
	fs.StringVar(&d.Shipping.FullName, "name", "", "full name")
	fs.StringVar(&d.Shipping.Phone, "phone", "", "phone number")
	fs.StringVar(&d.Shipping.Address, "address", "", "delivery address")
	fs.StringVar(&d.Shipping.City, "city", "", "city")
	fs.StringVar(&method, "method", string(model.PaymentCOD), "payment method: cod, bkash, nagad, rocket or bank")
	fs.StringVar(&d.Payment.SenderPhone, "sender", "", "wallet number the payment was sent from")
	fs.StringVar(&d.Payment.TrxID, "trx", "", "wallet transaction id")
	fs.StringVar(&d.Payment.AccountName, "account-name", "", "bank account name")
	fs.StringVar(&d.Payment.AccountNo, "account-no", "", "bank account number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d.Payment.Method = model.PaymentMethod(strings.ToLower(method))

	order, err := a.sf.Checkout.PlaceOrder(ctx, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "order %s: %d items, total %s (%s)\n", order.ID, len(order.Items), order.Total, order.Payment.Method)
	return nil
}

func (a *app) orders(ctx context.Context, _ []string) error {
	orders, err := a.sf.Checkout.Orders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(a.out, "No orders yet.")
		return nil
	}
	tw := a.table()
	fmt.Fprintln(tw, "ORDER\tPLACED\tITEMS\tTOTAL\tPAYMENT\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.ID, o.CreatedAt.Format("2006-01-02 15:04"), len(o.Items), o.Total, o.Payment.Method, o.Status)
	}
	return tw.Flush()
}
