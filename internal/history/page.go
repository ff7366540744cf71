package history

import "github.com/alanyoungcy/treasurechest/internal/domain"

// Paginate returns the 1-indexed page of size pageSize. The last page may be
// partial; a page outside the range yields an empty slice.
func Paginate(events []domain.OutcomeEvent, pageSize, page int) []domain.OutcomeEvent {
	if pageSize <= 0 || page < 1 {
		return []domain.OutcomeEvent{}
	}
	start := (page - 1) * pageSize
	if start >= len(events) {
		return []domain.OutcomeEvent{}
	}
	end := min(start+pageSize, len(events))
	out := make([]domain.OutcomeEvent, end-start)
	copy(out, events[start:end])
	return out
}

// TotalPages is the number of pages needed for n records. It is at least 1
// so an empty list still renders one (empty) page.
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 || n <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

// Ellipsis marks a gap in a page window.
const Ellipsis = 0

// PageWindow returns the page numbers a pager shows: the first and last page,
// the current page and its neighbours, with Ellipsis where pages are skipped.
// With five pages or fewer every page is listed.
func PageWindow(current, total int) []int {
	if total <= 0 {
		return []int{}
	}
	if total <= 5 {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	current = max(1, min(current, total))

	out := []int{1}
	lo, hi := max(2, current-1), min(total-1, current+1)
	if lo > 2 {
		out = append(out, Ellipsis)
	}
	for p := lo; p <= hi; p++ {
		out = append(out, p)
	}
	if hi < total-1 {
		out = append(out, Ellipsis)
	}
	return append(out, total)
}
