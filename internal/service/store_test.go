package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-checkout-api/internal/model"
	"github.com/flicky/go-checkout-api/internal/repository"
)

// memState backs every mock repository. WithinTx holds the mutex for the
// whole unit of work and restores a snapshot when fn fails, which gives the
// same all-or-nothing and serialized behaviour the Postgres transactor has.
type memState struct {
	mu sync.Mutex

	users     map[uuid.UUID]model.User
	products  map[uuid.UUID]model.Product
	carts     map[uuid.UUID]model.Cart
	cartItems []model.CartItem
	orders    map[uuid.UUID]model.Order
	payments  map[uuid.UUID]model.Payment

	seq  int
	fail map[string]error
}

func newMemState() *memState {
	return &memState{
		users:    make(map[uuid.UUID]model.User),
		products: make(map[uuid.UUID]model.Product),
		carts:    make(map[uuid.UUID]model.Cart),
		orders:   make(map[uuid.UUID]model.Order),
		payments: make(map[uuid.UUID]model.Payment),
		fail:     make(map[string]error),
	}
}

type memTxKey struct{}

func (s *memState) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// lock takes the mutex unless ctx already runs inside WithinTx.
func (s *memState) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// failOn makes the next call to op return err.
func (s *memState) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *memState) injected(op string) error {
	if err, ok := s.fail[op]; ok {
		delete(s.fail, op)
		return err
	}
	return nil
}

func (s *memState) now() time.Time {
	s.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

type memSnapshot struct {
	users     map[uuid.UUID]model.User
	products  map[uuid.UUID]model.Product
	carts     map[uuid.UUID]model.Cart
	cartItems []model.CartItem
	orders    map[uuid.UUID]model.Order
	payments  map[uuid.UUID]model.Payment
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) snapshot() memSnapshot {
	return memSnapshot{
		users:     cloneMap(s.users),
		products:  cloneMap(s.products),
		carts:     cloneMap(s.carts),
		cartItems: append([]model.CartItem(nil), s.cartItems...),
		orders:    cloneMap(s.orders),
		payments:  cloneMap(s.payments),
	}
}

func (s *memState) restore(snap memSnapshot) {
	s.users = snap.users
	s.products = snap.products
	s.carts = snap.carts
	s.cartItems = snap.cartItems
	s.orders = snap.orders
	s.payments = snap.payments
}

// --- users ---

type mockUserRepo struct{ st *memState }

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	defer m.st.lock(ctx)()
	for _, u := range m.st.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = m.st.now()
	user.UpdatedAt = user.CreatedAt
	m.st.users[user.ID] = *user
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer m.st.lock(ctx)()
	u, ok := m.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer m.st.lock(ctx)()
	for _, u := range m.st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

// --- products ---

type mockProductRepo struct{ st *memState }

func (m *mockProductRepo) Create(ctx context.Context, p *model.Product) error {
	defer m.st.lock(ctx)()
	p.ID = uuid.New()
	p.CreatedAt = m.st.now()
	p.UpdatedAt = p.CreatedAt
	m.st.products[p.ID] = *p
	return nil
}

func (m *mockProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	defer m.st.lock(ctx)()
	p, ok := m.st.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProductRepo) List(ctx context.Context, limit, offset int) ([]model.Product, int, error) {
	defer m.st.lock(ctx)()
	all := make([]model.Product, 0, len(m.st.products))
	for _, p := range m.st.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *mockProductRepo) Update(ctx context.Context, p *model.Product) error {
	defer m.st.lock(ctx)()
	if _, ok := m.st.products[p.ID]; !ok {
		return pgx.ErrNoRows
	}
	p.UpdatedAt = m.st.now()
	m.st.products[p.ID] = *p
	return nil
}

func (m *mockProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer m.st.lock(ctx)()
	if _, ok := m.st.products[id]; !ok {
		return pgx.ErrNoRows
	}
	for _, it := range m.st.cartItems {
		if it.ProductID == id {
			return repository.ErrReferenced
		}
	}
	for _, o := range m.st.orders {
		for _, it := range o.Items {
			if it.ProductID == id {
				return repository.ErrReferenced
			}
		}
	}
	delete(m.st.products, id)
	return nil
}

func (m *mockProductRepo) LockForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error) {
	defer m.st.lock(ctx)()
	out := make(map[uuid.UUID]*model.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.st.products[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (m *mockProductRepo) ReserveStock(ctx context.Context, id uuid.UUID, qty int) error {
	defer m.st.lock(ctx)()
	if err := m.st.injected("products.ReserveStock:" + id.String()); err != nil {
		return err
	}
	p, ok := m.st.products[id]
	if !ok || p.Stock < qty {
		return repository.ErrInsufficientStock
	}
	p.Stock -= qty
	m.st.products[id] = p
	return nil
}

func (m *mockProductRepo) ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error {
	defer m.st.lock(ctx)()
	p := m.st.products[id]
	p.Stock += qty
	m.st.products[id] = p
	return nil
}

// --- carts ---

type mockCartRepo struct{ st *memState }

func (m *mockCartRepo) cartOf(userID uuid.UUID) (model.Cart, bool) {
	for _, c := range m.st.carts {
		if c.UserID == userID {
			return c, true
		}
	}
	return model.Cart{}, false
}

func (m *mockCartRepo) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	defer m.st.lock(ctx)()
	if c, ok := m.cartOf(userID); ok {
		return &c, nil
	}
	c := model.Cart{ID: uuid.New(), UserID: userID, CreatedAt: m.st.now()}
	m.st.carts[c.ID] = c
	return &c, nil
}

func (m *mockCartRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	defer m.st.lock(ctx)()
	if c, ok := m.cartOf(userID); ok {
		return &c, nil
	}
	return nil, nil
}

func (m *mockCartRepo) LockCart(context.Context, uuid.UUID) error { return nil }

func (m *mockCartRepo) ListItems(ctx context.Context, cartID uuid.UUID) ([]model.CartItem, error) {
	defer m.st.lock(ctx)()
	var out []model.CartItem
	for _, it := range m.st.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockCartRepo) ListItemViews(ctx context.Context, cartID uuid.UUID) ([]model.CartItemView, error) {
	defer m.st.lock(ctx)()
	var out []model.CartItemView
	for _, it := range m.st.cartItems {
		if it.CartID == cartID {
			out = append(out, model.CartItemView{
				ProductID:   it.ProductID,
				ProductName: m.st.products[it.ProductID].Name,
				Quantity:    it.Quantity,
				Color:       it.Color,
				Size:        it.Size,
			})
		}
	}
	return out, nil
}

func (m *mockCartRepo) FindItem(ctx context.Context, cartID uuid.UUID, key model.LineKey) (*model.CartItem, error) {
	defer m.st.lock(ctx)()
	for _, it := range m.st.cartItems {
		if it.CartID == cartID && it.Key() == key {
			return &it, nil
		}
	}
	return nil, nil
}

func (m *mockCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	defer m.st.lock(ctx)()
	for _, it := range m.st.cartItems {
		if it.CartID == item.CartID && it.Key() == item.Key() {
			return repository.ErrDuplicate
		}
	}
	item.ID = uuid.New()
	item.CreatedAt = m.st.now()
	m.st.cartItems = append(m.st.cartItems, *item)
	return nil
}

func (m *mockCartRepo) removeWhere(match func(model.CartItem) bool) int64 {
	kept := m.st.cartItems[:0:0]
	var n int64
	for _, it := range m.st.cartItems {
		if match(it) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	m.st.cartItems = kept
	return n
}

func (m *mockCartRepo) DeleteItemsByProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	defer m.st.lock(ctx)()
	return m.removeWhere(func(it model.CartItem) bool {
		return it.CartID == cartID && it.ProductID == productID
	}), nil
}

func (m *mockCartRepo) DeleteItems(ctx context.Context, ids []uuid.UUID) error {
	defer m.st.lock(ctx)()
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	m.removeWhere(func(it model.CartItem) bool { return set[it.ID] })
	return nil
}

func (m *mockCartRepo) ClearCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	defer m.st.lock(ctx)()
	return m.removeWhere(func(it model.CartItem) bool { return it.CartID == cartID }), nil
}

// --- orders ---

type mockOrderRepo struct{ st *memState }

func (m *mockOrderRepo) Create(ctx context.Context, order *model.Order) error {
	defer m.st.lock(ctx)()
	if err := m.st.injected("orders.Create"); err != nil {
		return err
	}
	order.ID = uuid.New()
	order.CreatedAt = m.st.now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]model.OrderItem(nil), order.Items...)
	m.st.orders[order.ID] = stored
	return nil
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	defer m.st.lock(ctx)()
	o, ok := m.st.orders[id]
	if !ok {
		return nil, nil
	}
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return &o, nil
}

func (m *mockOrderRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return m.GetByID(ctx, id)
}

func (m *mockOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	defer m.st.lock(ctx)()
	var out []model.Order
	for _, o := range m.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockOrderRepo) UpdateState(ctx context.Context, order *model.Order) error {
	defer m.st.lock(ctx)()
	if err := m.st.injected("orders.UpdateState"); err != nil {
		return err
	}
	o := m.st.orders[order.ID]
	o.Status = order.Status
	o.StockReserved = order.StockReserved
	o.UpdatedAt = m.st.now()
	m.st.orders[order.ID] = o
	order.UpdatedAt = o.UpdatedAt
	return nil
}

// --- payments ---

type mockPaymentRepo struct{ st *memState }

func (m *mockPaymentRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	defer m.st.lock(ctx)()
	p, ok := m.st.payments[orderID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockPaymentRepo) Save(ctx context.Context, p *model.Payment) error {
	defer m.st.lock(ctx)()
	if existing, ok := m.st.payments[p.OrderID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.UpdatedAt = m.st.now()
	m.st.payments[p.OrderID] = *p
	return nil
}

// --- collaborators ---

type recordingNotifier struct {
	mu              sync.Mutex
	confirmations   []uuid.UUID
	recommendations []uuid.UUID
	welcomes        []uuid.UUID
}

func (n *recordingNotifier) SendConfirmation(o *model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, o.ID)
}

func (n *recordingNotifier) UpdateRecommendations(o *model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recommendations = append(n.recommendations, o.ID)
}

func (n *recordingNotifier) SendWelcome(u *model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomes = append(n.welcomes, u.ID)
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []uuid.UUID
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
}

// --- fixture ---

type fixture struct {
	st       *memState
	users    *mockUserRepo
	products *mockProductRepo
	carts    *mockCartRepo
	orders   *mockOrderRepo
	payments *mockPaymentRepo
	notifier *recordingNotifier
	cache    *recordingCache

	cartSvc    *CartService
	orderSvc   *OrderService
	paymentSvc *PaymentService
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newFixture(t *testing.T, decider OutcomeDecider) *fixture {
	t.Helper()
	st := newMemState()
	f := &fixture{
		st:       st,
		users:    &mockUserRepo{st: st},
		products: &mockProductRepo{st: st},
		carts:    &mockCartRepo{st: st},
		orders:   &mockOrderRepo{st: st},
		payments: &mockPaymentRepo{st: st},
		notifier: &recordingNotifier{},
		cache:    &recordingCache{},
	}
	log := testLogger()
	f.cartSvc = NewCartService(f.carts, f.products, f.users, log)
	f.orderSvc = NewOrderService(OrderDeps{
		Tx: st, UserRepo: f.users, CartRepo: f.carts, ProductRepo: f.products, OrderRepo: f.orders,
		Notifier: f.notifier, Cache: f.cache, Log: log,
	})
	f.paymentSvc = NewPaymentService(PaymentDeps{
		Tx: st, OrderRepo: f.orders, PaymentRepo: f.payments, ProductRepo: f.products, Carts: f.cartSvc,
		Decider: decider, Notifier: f.notifier, Cache: f.cache, Log: log,
	})
	return f
}

func (f *fixture) addUser(t *testing.T) uuid.UUID {
	t.Helper()
	u := &model.User{Email: uuid.NewString() + "@example.com", Name: "Test", Role: model.RoleClient, Active: true}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func (f *fixture) addProduct(t *testing.T, name, price string, stock int) uuid.UUID {
	t.Helper()
	p := &model.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	if err := f.products.Create(context.Background(), p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p.ID
}

// seedCartItem writes a cart line directly, bypassing the add-to-cart
// pre-checks, to model a cart that went stale before checkout.
func (f *fixture) seedCartItem(t *testing.T, userID, productID uuid.UUID, qty int, color, size string) {
	t.Helper()
	ctx := context.Background()
	cart, err := f.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.cartItems = append(f.st.cartItems, model.CartItem{
		ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: qty, Color: color, Size: size,
	})
}

func (f *fixture) stock(id uuid.UUID) int {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.st.products[id].Stock
}

func (f *fixture) setPrice(id uuid.UUID, price string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	p := f.st.products[id]
	p.Price = decimal.RequireFromString(price)
	f.st.products[id] = p
}

func (f *fixture) orderCount() int {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return len(f.st.orders)
}

func (f *fixture) cartLines(userID uuid.UUID) int {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	c, ok := f.carts.cartOf(userID)
	if !ok {
		return 0
	}
	n := 0
	for _, it := range f.st.cartItems {
		if it.CartID == c.ID {
			n++
		}
	}
	return n
}

func client(id uuid.UUID) Actor { return Actor{UserID: id, Role: model.RoleClient} }

func boolPtr(b bool) *bool { return &b }

func decimalOf(s string) decimal.Decimal { return decimal.RequireFromString(s) }
