package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

const inventoryColumns = `id, product_option_id, quantity, reserved_quantity, safety_stock, version, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:  log,
		pool: pool,
	}
}

func (r *Repository) Create(ctx context.Context, inv domain.Inventory, ref domain.Ref) (domain.Inventory, error) {
	var out domain.Inventory
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		row := q.QueryRow(ctx, `
			INSERT INTO inventories (product_option_id, quantity, reserved_quantity, safety_stock)
			VALUES ($1, $2, 0, $3)
			RETURNING `+inventoryColumns,
			inv.ProductOptionID, inv.Quantity, inv.SafetyStock)
		var err error
		out, err = scanInventory(row)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return domain.ErrInventoryExists
			}
			return fmt.Errorf("create inventory: %w", err)
		}
		return r.appendHistory(ctx, q, domain.ChangeIncrease, domain.Inventory{ID: out.ID, ProductOptionID: out.ProductOptionID}, out, ref)
	})
	return out, err
}

func (r *Repository) Get(ctx context.Context, productOptionID int64) (domain.Inventory, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+inventoryColumns+` FROM inventories WHERE product_option_id = $1`, productOptionID)
	inv, err := scanInventory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("get inventory: %w", err)
	}
	return inv, nil
}

func (r *Repository) History(ctx context.Context, productOptionID int64, limit int) ([]domain.HistoryEntry, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, inventory_id, product_option_id, change_type, change_quantity, before_quantity,
		       after_quantity, reason, reference_id, reference_type, created_at
		FROM inventory_history
		WHERE product_option_id = $1
		ORDER BY id DESC
		LIMIT $2`, productOptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.InventoryID, &e.ProductOptionID, &e.ChangeType, &e.ChangeQuantity,
			&e.BeforeQuantity, &e.AfterQuantity, &e.Reason, &e.ReferenceID, &e.ReferenceType, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Increase(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(ctx, productOptionID, domain.ChangeIncrease, ref, `
		UPDATE inventories
		SET quantity = quantity + $2, version = version + 1, updated_at = NOW()
		WHERE product_option_id = $1
		RETURNING `+inventoryColumns, amount)
}

func (r *Repository) Decrease(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(ctx, productOptionID, domain.ChangeDecrease, ref, `
		UPDATE inventories
		SET quantity = quantity - $2, version = version + 1, updated_at = NOW()
		WHERE product_option_id = $1 AND quantity >= $2 AND quantity - $2 >= reserved_quantity
		RETURNING `+inventoryColumns, amount)
}

func (r *Repository) Reserve(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(ctx, productOptionID, domain.ChangeReserve, ref, reserveSQL, amount)
}

const reserveSQL = `
	UPDATE inventories
	SET reserved_quantity = reserved_quantity + $2, version = version + 1, updated_at = NOW()
	WHERE product_option_id = $1 AND quantity - reserved_quantity >= $2
	RETURNING ` + inventoryColumns

func (r *Repository) Release(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, int, error) {
	var (
		out      domain.Inventory
		released int
	)
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var err error
		out, released, err = r.release(ctx, database.Conn(ctx, r.pool), productOptionID, amount, ref)
		return err
	})
	return out, released, err
}

// release clamps at zero; the locked CTE row supplies the before value.
func (r *Repository) release(ctx context.Context, q database.Querier, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, int, error) {
	row := q.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, reserved_quantity FROM inventories WHERE product_option_id = $1 FOR UPDATE
		)
		UPDATE inventories i
		SET reserved_quantity = GREATEST(0, i.reserved_quantity - $2), version = i.version + 1, updated_at = NOW()
		FROM prev
		WHERE i.id = prev.id
		RETURNING i.id, i.product_option_id, i.quantity, i.reserved_quantity, i.safety_stock, i.version, i.updated_at,
		          prev.reserved_quantity`, productOptionID, amount)

	var out domain.Inventory
	var beforeReserved int
	err := row.Scan(&out.ID, &out.ProductOptionID, &out.Quantity, &out.ReservedQuantity, &out.SafetyStock,
		&out.Version, &out.UpdatedAt, &beforeReserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, 0, domain.ErrInventoryNotFound
	}
	if err != nil {
		return domain.Inventory{}, 0, fmt.Errorf("release stock: %w", err)
	}
	before := out
	before.ReservedQuantity = beforeReserved
	if err := r.appendHistory(ctx, q, domain.ChangeRelease, before, out, ref); err != nil {
		return domain.Inventory{}, 0, err
	}
	return out, beforeReserved - out.ReservedQuantity, nil
}

func (r *Repository) Confirm(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(ctx, productOptionID, domain.ChangeConfirm, ref, confirmSQL, amount)
}

const confirmSQL = `
	UPDATE inventories
	SET quantity = quantity - $2, reserved_quantity = reserved_quantity - $2, version = version + 1, updated_at = NOW()
	WHERE product_option_id = $1 AND quantity >= $2 AND reserved_quantity >= $2
	RETURNING ` + inventoryColumns

const reopenSQL = `
	UPDATE inventories
	SET quantity = quantity + $2, reserved_quantity = reserved_quantity + $2, version = version + 1, updated_at = NOW()
	WHERE product_option_id = $1
	RETURNING ` + inventoryColumns

func (r *Repository) CompareAndSwap(ctx context.Context, next domain.Inventory, expectedVersion int64, ref domain.Ref) (domain.Inventory, error) {
	var out domain.Inventory
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		before, err := scanInventory(q.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventories WHERE product_option_id = $1 AND version = $2`,
			next.ProductOptionID, expectedVersion))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.conflictOrMissing(ctx, q, next.ProductOptionID)
		}
		if err != nil {
			return fmt.Errorf("cas read: %w", err)
		}

		row := q.QueryRow(ctx, `
			UPDATE inventories
			SET quantity = $2, reserved_quantity = $3, safety_stock = $4, version = version + 1, updated_at = NOW()
			WHERE product_option_id = $1 AND version = $5
			RETURNING `+inventoryColumns,
			next.ProductOptionID, next.Quantity, next.ReservedQuantity, next.SafetyStock, expectedVersion)
		out, err = scanInventory(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInventoryUpdateConflict
		}
		if database.IsCheckViolation(err) {
			return domain.ErrInsufficientStock
		}
		if err != nil {
			return fmt.Errorf("cas update: %w", err)
		}

		for _, ct := range domain.AdjustChanges(before, out) {
			if err := r.appendHistory(ctx, q, ct, before, out, ref); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (r *Repository) ReserveForOrder(ctx context.Context, res domain.Reservation) (domain.Inventory, error) {
	var out domain.Inventory
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		ref := domain.Ref{ID: res.OrderID, Type: domain.RefOrder, Reason: "order reservation"}
		var err error
		out, err = r.apply(ctx, q, res.ProductOptionID, domain.ChangeReserve, ref, reserveSQL, res.Quantity)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO stock_reservations (id, order_id, product_option_id, quantity, status)
			VALUES ($1, $2, $3, $4, $5)`,
			res.ID, res.OrderID, res.ProductOptionID, res.Quantity, domain.ReservationReserved)
		if err != nil {
			return fmt.Errorf("record reservation: %w", err)
		}
		return nil
	})
	return out, err
}

const reservationColumns = `id::text, order_id, product_option_id, quantity, status, reason, created_at, updated_at`

func (r *Repository) ReservationsForOrder(ctx context.Context, orderID string, productOptionID int64) ([]domain.Reservation, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE order_id = $1 AND product_option_id = $2
		ORDER BY created_at, id`, orderID, productOptionID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	row := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, reservationID)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) || database.IsInvalidUUID(err) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

func (r *Repository) ReleaseReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error) {
	var (
		res      domain.Reservation
		released bool
	)
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		var err error
		res, released, err = r.closeReservation(ctx, q, reservationID, domain.ReservationReleased, reason)
		if err != nil || !released {
			return err
		}
		ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: reason}
		_, _, err = r.release(ctx, q, res.ProductOptionID, res.Quantity, ref)
		if errors.Is(err, domain.ErrInventoryNotFound) {
			r.log.Warn("released reservation for missing inventory row", "reservation_id", res.ID, "product_option_id", res.ProductOptionID)
			return nil
		}
		return err
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	return res, released, nil
}

func (r *Repository) ConfirmReservation(ctx context.Context, reservationID string) (domain.Reservation, bool, error) {
	var (
		res       domain.Reservation
		confirmed bool
	)
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		var err error
		res, confirmed, err = r.closeReservation(ctx, q, reservationID, domain.ReservationConfirmed, "")
		if err != nil || !confirmed {
			return err
		}
		ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: "order shipped"}
		_, err = r.apply(ctx, q, res.ProductOptionID, domain.ChangeConfirm, ref, confirmSQL, res.Quantity)
		return err
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	return res, confirmed, nil
}

func (r *Repository) ReopenReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error) {
	var (
		res      domain.Reservation
		reopened bool
	)
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		row := q.QueryRow(ctx, `
			UPDATE stock_reservations
			SET status = 'RESERVED', reason = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'CONFIRMED'
			RETURNING `+reservationColumns, reservationID, reason)
		var err error
		res, err = scanReservation(row)
		switch {
		case database.IsInvalidUUID(err):
			return domain.ErrReservationNotFound
		case errors.Is(err, pgx.ErrNoRows):
			res, err = scanReservation(q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, reservationID))
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrReservationNotFound
			}
			return err
		case err != nil:
			return fmt.Errorf("reopen reservation: %w", err)
		}
		reopened = true

		after, err := scanInventory(q.QueryRow(ctx, reopenSQL, res.ProductOptionID, res.Quantity))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInventoryNotFound
		}
		if err != nil {
			return fmt.Errorf("reopen stock: %w", err)
		}
		before := after
		before.Quantity -= res.Quantity
		before.ReservedQuantity -= res.Quantity
		ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: reason}
		return r.appendHistory(ctx, q, domain.ChangeIncrease, before, after, ref)
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	return res, reopened, nil
}

// closeReservation flips an open reservation to status. When the reservation
// is not open it returns the stored row and false.
func (r *Repository) closeReservation(ctx context.Context, q database.Querier, reservationID string, status domain.ReservationStatus, reason string) (domain.Reservation, bool, error) {
	row := q.QueryRow(ctx, `
		UPDATE stock_reservations
		SET status = $2, reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'RESERVED'
		RETURNING `+reservationColumns, reservationID, status, reason)
	res, err := scanReservation(row)
	if err == nil {
		return res, true, nil
	}
	if database.IsInvalidUUID(err) {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, false, fmt.Errorf("close reservation: %w", err)
	}

	res, err = scanReservation(q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, reservationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("get reservation: %w", err)
	}
	return res, false, nil
}

func (r *Repository) mutate(ctx context.Context, productOptionID int64, ct domain.ChangeType, ref domain.Ref, stmt string, amount int) (domain.Inventory, error) {
	var out domain.Inventory
	err := database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var err error
		out, err = r.apply(ctx, database.Conn(ctx, r.pool), productOptionID, ct, ref, stmt, amount)
		return err
	})
	return out, err
}

// apply runs one conditional UPDATE. No row back means either the option is
// unknown or the condition failed, which is told apart afterwards.
func (r *Repository) apply(ctx context.Context, q database.Querier, productOptionID int64, ct domain.ChangeType, ref domain.Ref, stmt string, amount int) (domain.Inventory, error) {
	out, err := scanInventory(q.QueryRow(ctx, stmt, productOptionID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		exists, xErr := r.exists(ctx, q, productOptionID)
		if xErr != nil {
			return domain.Inventory{}, xErr
		}
		if !exists {
			return domain.Inventory{}, domain.ErrInventoryNotFound
		}
		return domain.Inventory{}, domain.ErrInsufficientStock
	}
	if database.IsCheckViolation(err) {
		return domain.Inventory{}, domain.ErrInsufficientStock
	}
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("%s stock: %w", ct, err)
	}

	before := out
	switch ct {
	case domain.ChangeIncrease:
		before.Quantity -= amount
	case domain.ChangeDecrease:
		before.Quantity += amount
	case domain.ChangeReserve:
		before.ReservedQuantity -= amount
	case domain.ChangeConfirm:
		before.Quantity += amount
		before.ReservedQuantity += amount
	}
	if err := r.appendHistory(ctx, q, ct, before, out, ref); err != nil {
		return domain.Inventory{}, err
	}
	return out, nil
}

func (r *Repository) conflictOrMissing(ctx context.Context, q database.Querier, productOptionID int64) error {
	exists, err := r.exists(ctx, q, productOptionID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrInventoryNotFound
	}
	return domain.ErrInventoryUpdateConflict
}

func (r *Repository) exists(ctx context.Context, q database.Querier, productOptionID int64) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventories WHERE product_option_id = $1)`, productOptionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check inventory: %w", err)
	}
	return exists, nil
}

func (r *Repository) appendHistory(ctx context.Context, q database.Querier, ct domain.ChangeType, before, after domain.Inventory, ref domain.Ref) error {
	e := domain.NewHistoryEntry(ct, before, after, ref, after.UpdatedAt)
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_history (inventory_id, product_option_id, change_type, change_quantity,
		                               before_quantity, after_quantity, reason, reference_id, reference_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.InventoryID, e.ProductOptionID, e.ChangeType, e.ChangeQuantity, e.BeforeQuantity, e.AfterQuantity,
		e.Reason, e.ReferenceID, e.ReferenceType)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func scanInventory(row pgx.Row) (domain.Inventory, error) {
	var inv domain.Inventory
	err := row.Scan(&inv.ID, &inv.ProductOptionID, &inv.Quantity, &inv.ReservedQuantity, &inv.SafetyStock, &inv.Version, &inv.UpdatedAt)
	return inv, err
}

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.ID, &res.OrderID, &res.ProductOptionID, &res.Quantity, &res.Status, &res.Reason, &res.CreatedAt, &res.UpdatedAt)
	return res, err
}
