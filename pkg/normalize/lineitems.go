package normalize

import (
	"math"
	"sort"
	"strings"
)

// LineItem is the intermediate line-item shape used during coercion.
type LineItem struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
	Category    any
}

// Reconciliation guards against adversarial inputs; beyond either cap the
// item list is kept unchanged.
const (
	maxReconcileItems       = 64
	maxReconcileTargetCents = 10_000_000
)

func (e *Engine) pickItem(item map[string]any, field string) any {
	aliases, ok := e.rules.LineItemAliases[field]
	if !ok || len(aliases) == 0 {
		aliases = []string{field}
	}
	for _, alias := range aliases {
		if v, present := item[alias]; present && !isEmpty(v) {
			return v
		}
	}
	return nil
}

// normalizeLineItems maps the raw items list into typed line items; when
// the structured items are missing or carry no positive amounts, it falls
// back to OCR recovery.
func (e *Engine) normalizeLineItems(raw any, ocrText string) []LineItem {
	var items []LineItem
	if list, ok := raw.([]any); ok {
		for _, elem := range list {
			obj, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			desc := strings.TrimSpace(asString(e.pickItem(obj, "description")))
			if desc == "" {
				desc = "item"
			}
			qty := SafeFloat(e.pickItem(obj, "quantity"), 1)
			unit := SafeFloat(e.pickItem(obj, "unit_price"), 0)
			total := SafeFloat(e.pickItem(obj, "line_total"), qty*unit)
			items = append(items, LineItem{
				Description: desc,
				Quantity:    math.Max(qty, 0.0001),
				UnitPrice:   math.Max(unit, 0),
				LineTotal:   math.Max(total, 0),
				Category:    e.pickItem(obj, "category"),
			})
		}
	}

	if hasAmounts(items) || ocrText == "" {
		return items
	}
	if recovered := e.recoverLineItemsFromOCR(ocrText); len(recovered) > 0 {
		return recovered
	}
	return items
}

func hasAmounts(items []LineItem) bool {
	for _, item := range items {
		if item.LineTotal > 0 {
			return true
		}
	}
	return false
}

func (e *Engine) shouldIgnoreLineItem(description string) bool {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return true
	}
	for _, keyword := range e.rules.LineItemIgnoreKeywords {
		if strings.Contains(desc, keyword) {
			return true
		}
	}
	return false
}

func (e *Engine) filterIgnored(items []LineItem) []LineItem {
	var out []LineItem
	for _, item := range items {
		if e.shouldIgnoreLineItem(item.Description) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// recoverLineItemsFromOCR re-derives items from raw page text line by
// line. The strict pattern is "<desc> <qty> <unit> <total>"; lines that
// miss it fall back to "<desc> <total>" with quantity 1.
func (e *Engine) recoverLineItemsFromOCR(text string) []LineItem {
	var rows []LineItem
	for _, line := range strings.Split(text, "\n") {
		compact := strings.TrimSpace(line)
		if len(compact) < 8 {
			continue
		}
		if m := ocrItemRE.FindStringSubmatch(compact); m != nil {
			desc := strings.TrimSpace(m[1])
			qty := SafeFloat(m[2], 1)
			unit := SafeFloat(m[3], 0)
			total := SafeFloat(m[4], qty*unit)
			if total <= 0 || e.shouldIgnoreLineItem(desc) {
				continue
			}
			rows = append(rows, LineItem{
				Description: desc,
				Quantity:    math.Max(qty, 0.0001),
				UnitPrice:   math.Max(unit, 0),
				LineTotal:   math.Max(total, 0),
			})
			continue
		}
		if m := ocrItemLooseRE.FindStringSubmatch(compact); m != nil {
			desc := strings.TrimSpace(m[1])
			total := SafeFloat(m[2], 0)
			if total <= 0 || e.shouldIgnoreLineItem(desc) {
				continue
			}
			rows = append(rows, LineItem{
				Description: desc,
				Quantity:    1,
				UnitPrice:   total,
				LineTotal:   total,
			})
		}
	}
	return rows
}

// reconcileLineItems selects the subset of items whose cent total best
// matches the declared target without exceeding it (plus tolerance).
// The bounded DP keeps the first subset discovered at each reachable sum,
// so tie-breaking is stable by item index.
func (e *Engine) reconcileLineItems(items []LineItem, target float64) []LineItem {
	if target <= 0 || len(items) <= 1 {
		return items
	}
	if len(items) > maxReconcileItems {
		return items
	}
	targetCents := int(math.Round(target * 100))
	if targetCents > maxReconcileTargetCents {
		return items
	}
	tol := int(math.Round(e.rules.AmountTolerance * 100))

	cents := make([]int, len(items))
	total := 0
	for i, item := range items {
		cents[i] = int(math.Round(item.LineTotal * 100))
		total += cents[i]
	}
	if abs(total-targetCents) <= tol {
		return items
	}
	if total < targetCents {
		// Nothing to subtract.
		return items
	}

	reachable := map[int][]int{0: {}}
	order := []int{0}
	for idx, value := range cents {
		if value <= 0 {
			continue
		}
		var added []int
		updates := make(map[int][]int)
		for _, sum := range order {
			next := sum + value
			if next > targetCents+tol {
				continue
			}
			if _, seen := reachable[next]; seen {
				continue
			}
			if _, seen := updates[next]; seen {
				continue
			}
			picked := make([]int, 0, len(reachable[sum])+1)
			picked = append(picked, reachable[sum]...)
			picked = append(picked, idx)
			updates[next] = picked
			added = append(added, next)
		}
		for _, sum := range added {
			reachable[sum] = updates[sum]
			order = append(order, sum)
		}
	}

	best := 0
	for sum := range reachable {
		if sum > best {
			best = sum
		}
	}
	if best == 0 {
		return items
	}
	chosen := append([]int(nil), reachable[best]...)
	sort.Ints(chosen)
	out := make([]LineItem, 0, len(chosen))
	for _, i := range chosen {
		out = append(out, items[i])
	}
	if len(out) == 0 {
		return items
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func itemsToAny(items []LineItem) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"description": item.Description,
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice,
			"line_total":  item.LineTotal,
			"category":    item.Category,
		})
	}
	return out
}
