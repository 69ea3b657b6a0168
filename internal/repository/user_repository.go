package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"usermanager/backend/internal/model"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrInvalidPageRange = errors.New("limit and offset must be >= 0")
)

type CreateUserInput struct {
	Name         string
	Email        string
	PasswordHash string
	Role         model.Role
	Phone        *string
	City         *string
	Country      *string
}

// UpdateUserInput changes only the non-nil fields. An empty optional
// string clears the column.
type UpdateUserInput struct {
	Name    *string
	Phone   *string
	City    *string
	Country *string
	Role    *model.Role
}

type ListUsersFilter struct {
	Query   string
	Country string
	Limit   int
	Offset  int
}

func (f ListUsersFilter) Validate() error {
	if f.Limit < 0 || f.Offset < 0 {
		return ErrInvalidPageRange
	}
	return nil
}

type UserRepository interface {
	Create(ctx context.Context, input CreateUserInput) (model.User, error)
	FindByID(ctx context.Context, id int64) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context, filter ListUsersFilter) ([]model.User, int, error)
	Update(ctx context.Context, id int64, input UpdateUserInput) (model.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Delete(ctx context.Context, id int64) error
	CountByRole(ctx context.Context, role model.Role) (int, error)
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Name         string    `bun:"name,notnull,type:varchar(100)"`
	Email        string    `bun:"email,notnull,unique,type:varchar(255)"`
	PasswordHash string    `bun:"password_hash,notnull,type:varchar(255)"`
	Role         string    `bun:"role,notnull,type:varchar(20),default:'Staff'"`
	Phone        *string   `bun:"phone,type:varchar(20)"`
	City         *string   `bun:"city,type:varchar(100)"`
	Country      *string   `bun:"country,type:varchar(100)"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         model.Role(r.Role),
		Phone:        r.Phone,
		City:         r.City,
		Country:      r.Country,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type BunUserRepository struct {
	db  bun.IDB
	now func() time.Time
}

func NewBunUserRepository(db bun.IDB) *BunUserRepository {
	return &BunUserRepository{
		db: db,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

func (r *BunUserRepository) Create(ctx context.Context, input CreateUserInput) (model.User, error) {
	now := r.now()
	row := &userRow{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         string(input.Role),
		Phone:        nilIfEmpty(input.Phone),
		City:         nilIfEmpty(input.City),
		Country:      nilIfEmpty(input.Country),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, err
	}
	return row.toModel(), nil
}

func (r *BunUserRepository) FindByID(ctx context.Context, id int64) (model.User, error) {
	row := new(userRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return row.toModel(), nil
}

func (r *BunUserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := new(userRow)
	err := r.db.NewSelect().Model(row).Where("email = ?", email).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return row.toModel(), nil
}

// List never selects password_hash. The returned total honours the filter
// but ignores Limit and Offset.
func (r *BunUserRepository) List(ctx context.Context, filter ListUsersFilter) ([]model.User, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	rows := make([]userRow, 0)
	q := r.db.NewSelect().Model(&rows).ExcludeColumn("password_hash")
	q = applyUserFilter(q, filter)
	q = q.OrderExpr("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, total, nil
}

func applyUserFilter(q *bun.SelectQuery, filter ListUsersFilter) *bun.SelectQuery {
	if query := strings.TrimSpace(filter.Query); query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(name) LIKE ?", pattern).WhereOr("LOWER(email) LIKE ?", pattern)
		})
	}
	if country := strings.TrimSpace(filter.Country); country != "" {
		q = q.Where("country = ?", country)
	}
	return q
}

func (r *BunUserRepository) Update(ctx context.Context, id int64, input UpdateUserInput) (model.User, error) {
	q := r.db.NewUpdate().Model((*userRow)(nil)).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id)
	if input.Name != nil {
		q = q.Set("name = ?", *input.Name)
	}
	if input.Phone != nil {
		q = q.Set("phone = ?", nullable(input.Phone))
	}
	if input.City != nil {
		q = q.Set("city = ?", nullable(input.City))
	}
	if input.Country != nil {
		q = q.Set("country = ?", nullable(input.Country))
	}
	if input.Role != nil {
		q = q.Set("role = ?", string(*input.Role))
	}

	// RowsAffected is not trusted here: MySQL reports 0 for rows whose
	// values did not change.
	if _, err := q.Exec(ctx); err != nil {
		return model.User{}, err
	}
	return r.FindByID(ctx, id)
}

func (r *BunUserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.NewUpdate().Model((*userRow)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *BunUserRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.NewDelete().Model((*userRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *BunUserRepository) CountByRole(ctx context.Context, role model.Role) (int, error) {
	return r.db.NewSelect().Model((*userRow)(nil)).Where("role = ?", string(role)).Count(ctx)
}

func nilIfEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

// nullable turns an empty optional value into SQL NULL.
func nullable(v *string) interface{} {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
