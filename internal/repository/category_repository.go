package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/marketsync/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type categoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository wires a repository backed by pgxpool.
func NewCategoryRepository(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepository{pool: pool}
}

func (r *categoryRepository) FindByNames(ctx context.Context, locale domain.Locale, names []string) (map[string]domain.Category, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("category repository not initialized")
	}
	// The column comes from a fixed table, never from input.
	column, err := domain.CategoryNameColumn(locale)
	if err != nil {
		return nil, err
	}
	found := make(map[string]domain.Category, len(names))
	if len(names) == 0 {
		return found, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name_en, name_de, name_fr, name_it, name_es, name_jp
		 FROM categories
		 WHERE lower(regexp_replace(btrim(`+column+`), '\s+', ' ', 'g')) = ANY($1)`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                     int64
			en, de, fr, it, es, jp pgtype.Text
		)
		if err := rows.Scan(&id, &en, &de, &fr, &it, &es, &jp); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		category := domain.Category{ID: id, Names: make(map[domain.Locale]string)}
		for _, l := range domain.Locales {
			col, _ := domain.CategoryNameColumn(l)
			var value pgtype.Text
			switch col {
			case "name_en":
				value = en
			case "name_de":
				value = de
			case "name_fr":
				value = fr
			case "name_it":
				value = it
			case "name_es":
				value = es
			case "name_jp":
				value = jp
			}
			if value.Valid {
				category.Names[l] = value.String
			}
		}
		key := domain.CategoryKey(category.Names[locale])
		if _, exists := found[key]; !exists {
			found[key] = category
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return found, nil
}

func (r *categoryRepository) Upsert(ctx context.Context, category domain.Category) error {
	if r.pool == nil {
		return fmt.Errorf("category repository not initialized")
	}
	names := func(column string) any {
		for l, name := range category.Names {
			if col, _ := domain.CategoryNameColumn(l); col == column && name != "" {
				return name
			}
		}
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO categories (id, name_en, name_de, name_fr, name_it, name_es, name_jp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name_en = COALESCE(EXCLUDED.name_en, categories.name_en),
		   name_de = COALESCE(EXCLUDED.name_de, categories.name_de),
		   name_fr = COALESCE(EXCLUDED.name_fr, categories.name_fr),
		   name_it = COALESCE(EXCLUDED.name_it, categories.name_it),
		   name_es = COALESCE(EXCLUDED.name_es, categories.name_es),
		   name_jp = COALESCE(EXCLUDED.name_jp, categories.name_jp)`,
		category.ID,
		names("name_en"), names("name_de"), names("name_fr"),
		names("name_it"), names("name_es"), names("name_jp"),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert category %d: %w", category.ID, err)
	}
	return nil
}
