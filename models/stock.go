package models

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SellableStock is a product offering available for sale, sourced from a purchase.
type SellableStock struct {
	ID           int             `gorm:"primary_key" json:"id"`
	PurchaseId   int             `gorm:"index;not null;default:0" json:"purchase_id"`
	ProductName  string          `gorm:"size:255;not null" json:"product_name"`
	Unit         string          `gorm:"size:50;default:null" json:"unit"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CrateStock is a reusable crate type loaned out with deliveries.
type CrateStock struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CrateName string    `gorm:"size:255;not null" json:"crate_name"`
	Quantity  int       `gorm:"not null;default:0" json:"quantity"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type stockKind int

const (
	sellableKind stockKind = iota
	crateKind
)

// stockMove is one pending adjustment. Negative deltas take stock, positive restore it.
type stockMove struct {
	kind  stockKind
	id    int
	delta decimal.Decimal
	name  string
}

func sellableMove(id int, delta decimal.Decimal, name string) stockMove {
	return stockMove{kind: sellableKind, id: id, delta: delta, name: name}
}

func crateMove(id int, delta int, name string) stockMove {
	return stockMove{kind: crateKind, id: id, delta: decimal.NewFromInt(int64(delta)), name: name}
}

// stockLedger locks stock rows (SELECT ... FOR UPDATE) inside the caller's
// transaction and keeps them for the rest of it.
type stockLedger struct {
	tx       *gorm.DB
	sellable map[int]*SellableStock
	crates   map[int]*CrateStock
}

func newStockLedger(tx *gorm.DB) *stockLedger {
	return &stockLedger{
		tx:       tx,
		sellable: map[int]*SellableStock{},
		crates:   map[int]*CrateStock{},
	}
}

func (l *stockLedger) sellableRow(id int, name string) (*SellableStock, error) {
	if row, ok := l.sellable[id]; ok {
		return row, nil
	}
	var row SellableStock
	err := l.tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "product", ID: id, Name: name}
	}
	if err != nil {
		return nil, err
	}
	l.sellable[id] = &row
	return &row, nil
}

func (l *stockLedger) crateRow(id int, name string) (*CrateStock, error) {
	if row, ok := l.crates[id]; ok {
		return row, nil
	}
	var row CrateStock
	err := l.tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "crate", ID: id, Name: name}
	}
	if err != nil {
		return nil, err
	}
	l.crates[id] = &row
	return &row, nil
}

// lock takes the row locks for ids in ascending order so that two
// transactions touching the same rows cannot deadlock on each other.
func (l *stockLedger) lock(sellableIds, crateIds []int) error {
	for _, id := range sortedUnique(sellableIds) {
		if _, err := l.sellableRow(id, ""); err != nil {
			return err
		}
	}
	for _, id := range sortedUnique(crateIds) {
		if _, err := l.crateRow(id, ""); err != nil {
			return err
		}
	}
	return nil
}

// lockAll locks the given rows together with every row the planned moves
// would change, so that a later apply only reuses locks already held.
func (l *stockLedger) lockAll(sellableIds, crateIds []int, planned []stockMove) error {
	for _, m := range netMoves(planned) {
		if m.kind == sellableKind {
			sellableIds = append(sellableIds, m.id)
		} else {
			crateIds = append(crateIds, m.id)
		}
	}
	return l.lock(sellableIds, crateIds)
}

// netMoves sums the moves per row and returns the non-zero ones sorted by kind then id.
func netMoves(moves []stockMove) []stockMove {
	type key struct {
		kind stockKind
		id   int
	}
	byKey := map[key]*stockMove{}
	var keys []key
	for _, m := range moves {
		k := key{m.kind, m.id}
		acc, seen := byKey[k]
		if !seen {
			acc = &stockMove{kind: m.kind, id: m.id, delta: decimal.Zero}
			byKey[k] = acc
			keys = append(keys, k)
		}
		acc.delta = acc.delta.Add(m.delta)
		if acc.name == "" {
			acc.name = m.name
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].id < keys[j].id
	})

	out := make([]stockMove, 0, len(keys))
	for _, k := range keys {
		if m := byKey[k]; !m.delta.IsZero() {
			out = append(out, *m)
		}
	}
	return out
}

// apply nets the moves per row, then locks, checks and writes each row in id order.
// A row whose net movement is zero is not touched.
func (l *stockLedger) apply(moves []stockMove) error {
	for _, m := range netMoves(moves) {
		var err error
		if m.kind == sellableKind {
			err = l.moveSellable(m.id, m.delta, m.name)
		} else {
			err = l.moveCrate(m.id, int(m.delta.IntPart()), m.name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *stockLedger) moveSellable(id int, delta decimal.Decimal, name string) error {
	row, err := l.sellableRow(id, name)
	if err != nil {
		return err
	}
	next := row.Quantity.Add(delta)
	if next.IsNegative() {
		if name == "" {
			name = row.ProductName
		}
		return &InsufficientStockError{
			Resource:  "product",
			ID:        id,
			Name:      name,
			Available: row.Quantity,
			Requested: delta.Neg(),
		}
	}
	if err := l.tx.Model(row).Update("quantity", next).Error; err != nil {
		return err
	}
	row.Quantity = next
	return nil
}

func (l *stockLedger) moveCrate(id int, delta int, name string) error {
	row, err := l.crateRow(id, name)
	if err != nil {
		return err
	}
	next := row.Quantity + delta
	if next < 0 {
		if name == "" {
			name = row.CrateName
		}
		return &InsufficientStockError{
			Resource:  "crate",
			ID:        id,
			Name:      name,
			Available: decimal.NewFromInt(int64(row.Quantity)),
			Requested: decimal.NewFromInt(int64(-delta)),
		}
	}
	if err := l.tx.Model(row).Update("quantity", next).Error; err != nil {
		return err
	}
	row.Quantity = next
	return nil
}

// DecrementSellableStock takes qty from a product offering inside tx.
func DecrementSellableStock(tx *gorm.DB, id int, qty decimal.Decimal) (*SellableStock, error) {
	return adjustSellableStock(tx, id, qty.Neg())
}

// IncrementSellableStock restores qty to a product offering inside tx.
func IncrementSellableStock(tx *gorm.DB, id int, qty decimal.Decimal) (*SellableStock, error) {
	return adjustSellableStock(tx, id, qty)
}

func adjustSellableStock(tx *gorm.DB, id int, delta decimal.Decimal) (*SellableStock, error) {
	l := newStockLedger(tx)
	if err := l.moveSellable(id, delta, ""); err != nil {
		return nil, err
	}
	return l.sellable[id], nil
}

// DecrementCrateStock reserves qty crates inside tx.
func DecrementCrateStock(tx *gorm.DB, id int, qty int) (*CrateStock, error) {
	return adjustCrateStock(tx, id, -qty)
}

// IncrementCrateStock returns qty crates inside tx.
func IncrementCrateStock(tx *gorm.DB, id int, qty int) (*CrateStock, error) {
	return adjustCrateStock(tx, id, qty)
}

func adjustCrateStock(tx *gorm.DB, id int, delta int) (*CrateStock, error) {
	l := newStockLedger(tx)
	if err := l.moveCrate(id, delta, ""); err != nil {
		return nil, err
	}
	return l.crates[id], nil
}

func GetSellableStock(db *gorm.DB, id int) (*SellableStock, error) {
	var row SellableStock
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "product", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func GetCrateStock(db *gorm.DB, id int) (*CrateStock, error) {
	var row CrateStock
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "crate", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func sortedUnique(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
