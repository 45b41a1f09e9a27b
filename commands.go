package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/go-authgate/storefront-cli/storefront"
)

var errNotSignedIn = errors.New("not signed in: run the login command first")

const usage = `Usage: storefront-cli [flags] [command]

Commands:
  (none)                 restore the session and show the first catalogue page
  login -cookie VALUE    sign in with a refresh cookie copied from the browser
  login -stdin           same, reading the cookie from standard input
  logout                 end the session
  whoami                 show the signed-in user
  profile -name NAME     change the display name
  products               list products (-page, -page-size, -sort, -order)
  product ID             show one product
  categories             list categories
  attributes CATEGORY    list the attribute definitions of a category
  create                 create a product (admin)
  update ID              update a product (admin)
  delete ID              delete a product (admin)
`

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		return a.cmdLogout(ctx)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "profile":
		return a.cmdProfile(ctx, args)
	case "products":
		return a.cmdProducts(ctx, args)
	case "product":
		return a.cmdProduct(ctx, args)
	case "categories":
		return a.cmdCategories(ctx)
	case "attributes":
		return a.cmdAttributes(ctx, args)
	case "create":
		return a.cmdCreate(ctx, args)
	case "update":
		return a.cmdUpdate(ctx, args)
	case "delete":
		return a.cmdDelete(ctx, args)
	case "help":
		a.d.ListLoaded("Help", strings.Split(strings.TrimSpace(usage), "\n"))
		return nil
	default:
		return fmt.Errorf("unknown command %q (see help)", name)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// requireSession restores the saved refresh cookie. Requests then start
// without an access token and the gateway obtains one on the first 401.
func (a *app) requireSession() error {
	if !a.restoreSession() {
		a.d.LoginRequired(a.auth.LoginURL())
		return errNotSignedIn
	}
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	cookie := fs.String(
		"cookie",
		"",
		"Refresh cookie value copied from the browser (or REFRESH_COOKIE env)",
	)
	fromStdin := fs.Bool("stdin", false, "Read the refresh cookie from standard input")
	if err := fs.Parse(args); err != nil {
		return err
	}

	value := getConfig(*cookie, "REFRESH_COOKIE", "")
	if value == "" && *fromStdin {
		var err error
		if value, err = readCookie(os.Stdin); err != nil {
			return fmt.Errorf("failed to read cookie: %w", err)
		}
	}
	if value == "" {
		a.d.LoginRequired(a.auth.LoginURL())
		return nil
	}

	storage := &SessionStorage{
		APIURL:  apiURL,
		Cookies: []SessionCookie{{Name: cookieName, Value: value}},
	}
	if err := storage.install(a.jar); err != nil {
		return fmt.Errorf("failed to install cookie: %w", err)
	}

	a.d.Refreshing()
	user, err := a.auth.CheckAuth(ctx)
	if err != nil {
		a.d.RefreshFailed(err)
		return err
	}
	a.d.RefreshOK(tokenLifetime(a.api.Token()))
	a.d.ProfileLoaded(user.Name, user.Email, user.Role)

	// The refresh may have rotated the cookie.
	if rotated, err := sessionFromJar(a.jar, apiURL); err == nil {
		storage = rotated
	}
	if err := saveSession(ctx, storage); err != nil {
		a.d.SessionSaveFailed(err)
	} else {
		a.d.SessionSaved(sessionFile)
	}

	a.done()
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	if !a.restoreSession() {
		a.d.ActionOK("Not signed in")
		return nil
	}

	err := a.auth.Logout(ctx)
	a.forgetSession(ctx)
	if err != nil {
		a.d.APICallFailed(err)
		a.d.ActionOK("Signed out locally")
		return nil
	}
	a.d.ActionOK("Signed out")
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	user, err := a.auth.Me(ctx)
	if err != nil {
		return err
	}
	a.d.ProfileLoaded(user.Name, user.Email, user.Role)
	a.persistSession(ctx)
	a.done()
	return nil
}

func (a *app) cmdProfile(ctx context.Context, args []string) error {
	fs := newFlagSet("profile")
	name := fs.String("name", "", "New display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	user, err := a.auth.UpdateMe(ctx, *name)
	if err != nil {
		return err
	}
	a.d.ProfileLoaded(user.Name, user.Email, user.Role)
	a.d.ActionOK("Profile updated")
	a.persistSession(ctx)
	return nil
}

func (a *app) cmdProducts(ctx context.Context, args []string) error {
	fs := newFlagSet("products")
	page := fs.Int("page", storefront.DefaultPage, "Page number")
	pageSize := fs.Int("page-size", storefront.DefaultPageSize, "Products per page")
	sortBy := fs.String("sort", string(storefront.SortByID), "Sort by id, price, title or created_at")
	order := fs.String("order", string(storefront.Asc), "Sort order: asc or desc")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := a.products.List(ctx, storefront.ListOptions{
		Page:      *page,
		PageSize:  *pageSize,
		SortBy:    storefront.SortField(*sortBy),
		SortOrder: storefront.SortOrder(*order),
	})
	if err != nil {
		return err
	}
	a.d.ProductsLoaded(productPage(list))
	return nil
}

func (a *app) cmdProduct(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	p, err := a.products.Get(ctx, id)
	if err != nil {
		return err
	}
	a.d.ListLoaded(p.Title, productFields(p))
	return nil
}

func (a *app) cmdCategories(ctx context.Context) error {
	categories, err := a.products.Categories(ctx)
	if err != nil {
		return err
	}
	items := make([]string, 0, len(categories))
	for _, c := range categories {
		items = append(items, fmt.Sprintf("%4d  %s", c.ID, c.Title))
	}
	a.d.ListLoaded("Categories", items)
	return nil
}

func (a *app) cmdAttributes(ctx context.Context, args []string) error {
	categoryID, err := parseID(args)
	if err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	defs, err := a.admin.CategoryAttributes(ctx, categoryID)
	if err != nil {
		return err
	}
	items := make([]string, 0, len(defs))
	for _, def := range defs {
		line := fmt.Sprintf("%s (%s)", def.Title, def.Kind())
		if def.Required {
			line += " required"
		}
		items = append(items, line)
	}
	a.d.ListLoaded(fmt.Sprintf("Attributes of category %d", categoryID), items)
	a.persistSession(ctx)
	return nil
}

// draftFlags registers the product input flags shared by create and update.
func draftFlags(fs *flag.FlagSet, d *storefront.ProductDraft) {
	d.Attributes = map[string]string{}
	fs.StringVar(&d.Title, storefront.FieldTitle, "", "Product title")
	fs.StringVar(&d.Price, storefront.FieldPrice, "", "Price in kopecks")
	fs.Int64Var(&d.CategoryID, storefront.FieldCategory, 0, "Category ID")
	fs.StringVar(&d.Description, storefront.FieldDescription, "", "Description")
	fs.StringVar(&d.Images, storefront.FieldImages, "", "Comma separated image URLs")
	fs.StringVar(&d.Stock, storefront.FieldStock, "", "Units in stock")
	fs.Var(attrFlag(d.Attributes), storefront.FieldAttributes, "Attribute as key=value (repeatable)")
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	var draft storefront.ProductDraft
	fs := newFlagSet("create")
	draftFlags(fs, &draft)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	var defs []storefront.Attribute
	if draft.CategoryID > 0 {
		var err error
		if defs, err = a.admin.CategoryAttributes(ctx, draft.CategoryID); err != nil {
			return err
		}
	}
	payload, err := draft.Payload(defs)
	if err != nil {
		return err
	}

	p, err := a.admin.CreateProduct(ctx, *payload)
	if err != nil {
		return err
	}
	a.d.ActionOK(fmt.Sprintf("Created product #%d %s", p.ID, p.Title))
	a.persistSession(ctx)
	return nil
}

func (a *app) cmdUpdate(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	var draft storefront.ProductDraft
	fs := newFlagSet("update")
	draftFlags(fs, &draft)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(set) == 0 {
		return errors.New("nothing to update")
	}

	if err := a.requireSession(); err != nil {
		return err
	}

	// Attribute types come from the target category.
	var defs []storefront.Attribute
	if set[storefront.FieldAttributes] {
		categoryID := draft.CategoryID
		if !set[storefront.FieldCategory] {
			current, err := a.products.Get(ctx, id)
			if err != nil {
				return err
			}
			categoryID = current.CategoryID
		}
		if defs, err = a.admin.CategoryAttributes(ctx, categoryID); err != nil {
			return err
		}
	}

	update, err := draft.Update(defs, set)
	if err != nil {
		return err
	}
	p, err := a.admin.UpdateProduct(ctx, id, *update)
	if err != nil {
		return err
	}
	a.d.ActionOK(fmt.Sprintf("Updated product #%d %s", p.ID, p.Title))
	a.persistSession(ctx)
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	if err := a.admin.DeleteProduct(ctx, id); err != nil {
		return err
	}
	a.d.ActionOK(fmt.Sprintf("Deleted product #%d", id))
	a.persistSession(ctx)
	return nil
}

// readCookie reads one secret line from f, without echo when f is a terminal.
func readCookie(f *os.File) (string, error) {
	if term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing id argument")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func productFields(p *storefront.Product) []string {
	fields := []string{
		fmt.Sprintf("ID:       %d", p.ID),
		"Price:    " + storefront.FormatPrice(p.Price),
		fmt.Sprintf("Stock:    %d", p.Stock),
		"Status:   " + p.Status,
	}
	if p.Category != nil {
		fields = append(fields, "Category: "+p.Category.Title)
	} else {
		fields = append(fields, fmt.Sprintf("Category: %d", p.CategoryID))
	}
	if p.Description != nil && *p.Description != "" {
		fields = append(fields, "About:    "+*p.Description)
	}
	if len(p.Images) > 0 {
		fields = append(fields, "Images:   "+strings.Join(p.Images, ", "))
	}
	for _, key := range slices.Sorted(maps.Keys(p.Attributes)) {
		fields = append(fields, fmt.Sprintf("  %s: %v", key, p.Attributes[key]))
	}
	return fields
}

// attrFlag collects repeated -attr key=value flags.
type attrFlag map[string]string

func (f attrFlag) String() string {
	pairs := make([]string, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		pairs = append(pairs, k+"="+f[k])
	}
	return strings.Join(pairs, ",")
}

func (f attrFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	f[key] = value
	return nil
}
