package repository

import "strconv"

// placeholder returns the positional Postgres placeholder for index n ($1-based).
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
