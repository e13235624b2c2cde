package testutil

import "mimir/internal/domain"

// RentalsSQL is a self-contained source query over inline rows.
//
//	rental_id | category | rental_date
//	1         | Action   | 2024-01-05
//	2         | Action   | 2024-01-20
//	3         | Comedy   | 2024-02-03
//	4         | Horror   | 2024-02-14
const RentalsSQL = `SELECT * FROM (VALUES
  (1, 'Action', TIMESTAMP '2024-01-05 10:00:00'),
  (2, 'Action', TIMESTAMP '2024-01-20 12:30:00'),
  (3, 'Comedy', TIMESTAMP '2024-02-03 09:15:00'),
  (4, 'Horror', TIMESTAMP '2024-02-14 20:00:00')
) AS t(rental_id, category, rental_date)`

// PaymentsSQL is a self-contained source query over inline rows. There is
// no Horror payment.
//
//	payment_id | category | amount | payment_date
//	1          | Action   | 4.5    | 2024-01-05
//	2          | Comedy   | 2.5    | 2024-02-03
//	3          | Action   | 3.0    | 2024-01-20
const PaymentsSQL = `SELECT payment_id, category, CAST(amount AS DOUBLE) AS amount, payment_date FROM (VALUES
  (1, 'Action', 4.5, TIMESTAMP '2024-01-05 10:01:00'),
  (2, 'Comedy', 2.5, TIMESTAMP '2024-02-03 09:16:00'),
  (3, 'Action', 3.0, TIMESTAMP '2024-01-20 12:31:00')
) AS t(payment_id, category, amount, payment_date)`

// RentalSources returns the rentals and payments sources. payments also
// exposes dim_rental_category through its dimensions list.
func RentalSources() []domain.Source {
	return []domain.Source{
		{
			Name:           "rentals",
			TimeCol:        "rental_date",
			ConnectionName: "warehouse",
			SQL:            RentalsSQL,
		},
		{
			Name:           "payments",
			TimeCol:        "payment_date",
			ConnectionName: "billing",
			SQL:            PaymentsSQL,
			Dimensions:     []string{"dim_rental_category"},
		},
	}
}

// RentalMetrics returns movies_rented (rentals), rentals_revenue (payments)
// and revenue_per_category (payments, requires dim_rental_category).
func RentalMetrics() []domain.Metric {
	return []domain.Metric{
		{Name: "movies_rented", SourceName: "rentals", SQL: "COUNT(DISTINCT rental_id) AS movies_rented"},
		{Name: "rentals_revenue", SourceName: "payments", SQL: "SUM(amount)"},
		{
			Name:               "revenue_per_category",
			SourceName:         "payments",
			SQL:                "AVG(amount)",
			RequiredDimensions: []string{"dim_rental_category"},
		},
	}
}

// RentalDimensions returns dim_rental_category (rentals, shared with
// payments) and dim_payment_size (payments only).
func RentalDimensions() []domain.Dimension {
	return []domain.Dimension{
		{Name: "dim_rental_category", SourceName: "rentals", SQL: "category"},
		{Name: "dim_payment_size", SourceName: "payments", SQL: "CASE WHEN amount >= 4 THEN 'large' ELSE 'small' END"},
	}
}

// RentalLoader returns a StaticLoader over the rental fixtures with both
// connections pointing at in-memory DuckDB.
func RentalLoader() *StaticLoader {
	return &StaticLoader{
		Sources:    RentalSources(),
		Metrics:    RentalMetrics(),
		Dimensions: RentalDimensions(),
		Secrets: map[string]*domain.ConnectionDescriptor{
			"warehouse": {Class: "duckdb"},
			"billing":   {Class: "duckdb"},
		},
	}
}
