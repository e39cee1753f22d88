// Package bm25 maintains the per-label keyword index inside the storage
// environment and scores searches with Okapi BM25.
//
// A node's document is the concatenation of its string-valued properties
// (arrays and nested objects contribute their string parts). Postings,
// document lengths, document frequencies and the corpus totals live in
// their own tables so deletion can decrement exactly what insertion
// incremented.
package bm25

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// Okapi BM25 parameters, the standard values.
const (
	k1 = 1.2
	b  = 0.75
)

// Index binds the keyword tables to one storage engine. StopWords may be
// nil to index every token.
type Index struct {
	eng       *storage.Engine
	stopWords map[string]struct{}
}

// Option configures the index.
type Option func(*Index)

// WithStopWords installs a stop-word set dropped at tokenisation.
func WithStopWords(words []string) Option {
	return func(ix *Index) {
		ix.stopWords = make(map[string]struct{}, len(words))
		for _, w := range words {
			ix.stopWords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// New builds a keyword index over eng.
func New(eng *storage.Engine, opts ...Option) *Index {
	ix := &Index{eng: eng}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Tokenize lowercases, splits on non-alphanumerics, and drops tokens
// shorter than two characters plus any configured stop words.
func (ix *Index) Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	tokens := words[:0]
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, stop := ix.stopWords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// docText flattens the string parts of a property map into the indexed
// document.
func docText(props map[string]protocol.Value) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		v := props[k]
		if s := stringParts(v); s != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s)
		}
	}
	return sb.String()
}

func stringParts(v protocol.Value) string {
	switch v.Kind() {
	case protocol.KindString:
		s, _ := v.Str()
		return s
	case protocol.KindArray:
		arr, _ := v.Arr()
		parts := make([]string, 0, len(arr))
		for _, e := range arr {
			if s := stringParts(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case protocol.KindObject:
		obj, _ := v.Obj()
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := stringParts(obj[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func termFreqs(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// counter helpers over the u32/u64 tables.

func getU32(txn *storage.Txn, key []byte) (uint32, error) {
	val, ok, err := txn.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(val) != 4 {
		return 0, fmt.Errorf("%w: malformed counter", storage.ErrInvariantBroken)
	}
	return binary.BigEndian.Uint32(val), nil
}

func putU32(txn *storage.Txn, key []byte, v uint32) error {
	if v == 0 {
		return txn.Delete(key)
	}
	return txn.Set(key, binary.BigEndian.AppendUint32(nil, v))
}

type corpusMeta struct {
	docs     uint64
	totalLen uint64
}

func getMeta(txn *storage.Txn, lh uint32) (corpusMeta, error) {
	val, ok, err := txn.Get(storage.BM25MetaKey(lh))
	if err != nil || !ok {
		return corpusMeta{}, err
	}
	if len(val) != 16 {
		return corpusMeta{}, fmt.Errorf("%w: malformed corpus meta", storage.ErrInvariantBroken)
	}
	return corpusMeta{
		docs:     binary.BigEndian.Uint64(val),
		totalLen: binary.BigEndian.Uint64(val[8:]),
	}, nil
}

func putMeta(txn *storage.Txn, lh uint32, m corpusMeta) error {
	if m.docs == 0 {
		return txn.Delete(storage.BM25MetaKey(lh))
	}
	buf := binary.BigEndian.AppendUint64(nil, m.docs)
	buf = binary.BigEndian.AppendUint64(buf, m.totalLen)
	return txn.Set(storage.BM25MetaKey(lh), buf)
}

// InsertDoc indexes a node's text into its label corpus. Nodes without
// indexable text are skipped.
func (ix *Index) InsertDoc(txn *storage.Txn, id protocol.ID, label string, props map[string]protocol.Value) error {
	tokens := ix.Tokenize(docText(props))
	if len(tokens) == 0 {
		return nil
	}
	lh := storage.HashLabel(label)

	for term, tf := range termFreqs(tokens) {
		if err := putU32(txn, storage.PostingKey(lh, term, id), uint32(tf)); err != nil {
			return err
		}
		df, err := getU32(txn, storage.DFKey(lh, term))
		if err != nil {
			return err
		}
		if err := putU32(txn, storage.DFKey(lh, term), df+1); err != nil {
			return err
		}
	}
	if err := putU32(txn, storage.DocLenKey(lh, id), uint32(len(tokens))); err != nil {
		return err
	}
	meta, err := getMeta(txn, lh)
	if err != nil {
		return err
	}
	meta.docs++
	meta.totalLen += uint64(len(tokens))
	return putMeta(txn, lh, meta)
}

// DeleteDoc removes a node's postings, decrementing the document
// frequency of each of its terms and the corpus totals. props must be
// the node's current properties, which re-tokenise to the indexed terms.
func (ix *Index) DeleteDoc(txn *storage.Txn, id protocol.ID, label string, props map[string]protocol.Value) error {
	lh := storage.HashLabel(label)
	docLen, err := getU32(txn, storage.DocLenKey(lh, id))
	if err != nil {
		return err
	}
	if docLen == 0 {
		return nil // never indexed
	}
	tokens := ix.Tokenize(docText(props))
	for term := range termFreqs(tokens) {
		if err := txn.Delete(storage.PostingKey(lh, term, id)); err != nil {
			return err
		}
		df, err := getU32(txn, storage.DFKey(lh, term))
		if err != nil {
			return err
		}
		if df > 0 {
			if err := putU32(txn, storage.DFKey(lh, term), df-1); err != nil {
				return err
			}
		}
	}
	if err := txn.Delete(storage.DocLenKey(lh, id)); err != nil {
		return err
	}
	meta, err := getMeta(txn, lh)
	if err != nil {
		return err
	}
	if meta.docs > 0 {
		meta.docs--
	}
	if meta.totalLen >= uint64(docLen) {
		meta.totalLen -= uint64(docLen)
	}
	return putMeta(txn, lh, meta)
}

// UpdateDoc reindexes a node after a property change.
func (ix *Index) UpdateDoc(txn *storage.Txn, id protocol.ID, label string, oldProps, newProps map[string]protocol.Value) error {
	if docText(oldProps) == docText(newProps) {
		return nil
	}
	if err := ix.DeleteDoc(txn, id, label, oldProps); err != nil {
		return err
	}
	return ix.InsertDoc(txn, id, label, newProps)
}

// ScoredDoc is one search hit.
type ScoredDoc struct {
	ID    protocol.ID
	Score float64
}

// SearchScored runs a BM25 query over the label's corpus, returning up
// to limit documents in descending score order. Ties break toward the
// lower document id.
func (ix *Index) SearchScored(txn *storage.Txn, label, query string, limit int) ([]ScoredDoc, error) {
	lh := storage.HashLabel(label)
	meta, err := getMeta(txn, lh)
	if err != nil {
		return nil, err
	}
	if meta.docs == 0 {
		return nil, nil
	}
	avgLen := float64(meta.totalLen) / float64(meta.docs)
	n := float64(meta.docs)

	scores := make(map[protocol.ID]float64)
	for _, term := range ix.Tokenize(query) {
		df, err := getU32(txn, storage.DFKey(lh, term))
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		idf := idf(n, float64(df))
		if idf == 0 {
			continue
		}
		err = txn.IteratePrefix(storage.PostingPrefix(lh, term), func(key, val []byte) (bool, error) {
			doc, ok := storage.DocIDFromPostingKey(key)
			if !ok || len(val) != 4 {
				return false, fmt.Errorf("%w: malformed posting", storage.ErrInvariantBroken)
			}
			tf := float64(binary.BigEndian.Uint32(val))
			docLen, err := getU32(txn, storage.DocLenKey(lh, doc))
			if err != nil {
				return false, err
			}
			denom := tf + k1*(1-b+b*float64(docLen)/avgLen)
			scores[doc] += idf * tf * (k1 + 1) / denom
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]ScoredDoc, 0, len(scores))
	for id, score := range scores {
		out = append(out, ScoredDoc{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID.Compare(out[j].ID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search returns only the ranked document ids, the shape the traversal
// step consumes.
func (ix *Index) Search(txn *storage.Txn, label, query string, limit int) ([]protocol.ID, error) {
	scored, err := ix.SearchScored(txn, label, query, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]protocol.ID, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids, nil
}

// Score computes the BM25 contribution of one term in one document.
// Terms absent from the document, and terms present in every document,
// score zero.
func (ix *Index) Score(txn *storage.Txn, label, term string, doc protocol.ID) (float64, error) {
	lh := storage.HashLabel(label)
	meta, err := getMeta(txn, lh)
	if err != nil || meta.docs == 0 {
		return 0, err
	}
	toks := ix.Tokenize(term)
	if len(toks) != 1 {
		return 0, fmt.Errorf("%w: expected a single term", protocol.ErrInvalidInput)
	}
	tf32, err := getU32(txn, storage.PostingKey(lh, toks[0], doc))
	if err != nil || tf32 == 0 {
		return 0, err
	}
	df, err := getU32(txn, storage.DFKey(lh, toks[0]))
	if err != nil {
		return 0, err
	}
	docLen, err := getU32(txn, storage.DocLenKey(lh, doc))
	if err != nil {
		return 0, err
	}
	avgLen := float64(meta.totalLen) / float64(meta.docs)
	tf := float64(tf32)
	denom := tf + k1*(1-b+b*float64(docLen)/avgLen)
	return idf(float64(meta.docs), float64(df)) * tf * (k1 + 1) / denom, nil
}

// idf uses the half-smoothed quotient, which stays positive while any
// document lacks the term and lands exactly on zero once every document
// carries it.
func idf(n, df float64) float64 {
	v := math.Log((n + 0.5) / (df + 0.5))
	if v < 0 {
		return 0
	}
	return v
}
