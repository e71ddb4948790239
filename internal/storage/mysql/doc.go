// Package mysql opens the MySQL connection pool shared by the query store and
// applies the embedded schema migrations in version order.
package mysql
