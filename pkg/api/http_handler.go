package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/fagongzi/util/format"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/shuffle"
	"github.com/labstack/echo"
)

const (
	succeed = 0
	failed  = 1
)

const (
	defaultLimit = 50
)

func (s *Server) health() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		return ctx.NoContent(http.StatusOK)
	}
}

func (s *Server) catalog() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, &meta.JSONResult{
			Value: s.cfg.Catalog,
		})
	}
}

func (s *Server) listShards() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, &meta.JSONResult{
			Value: s.shards.Shards(),
		})
	}
}

func (s *Server) ingest() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		c, ok := s.cfg.Catalog.Collection(ctx.Param("name"))
		if !ok {
			return ctx.NoContent(http.StatusNotFound)
		}

		if c.Derivation != nil {
			return ctx.JSON(http.StatusOK, &meta.JSONResult{
				Code:  failed,
				Value: fmt.Sprintf("collection %s is derived, not ingested", c.Name),
			})
		}

		data, err := ioutil.ReadAll(ctx.Request().Body)
		if err != nil {
			return ctx.NoContent(http.StatusBadRequest)
		}

		docs, err := splitDocuments(data)
		if err != nil {
			return ctx.NoContent(http.StatusBadRequest)
		}

		token, err := s.tokens.Gen()
		if err != nil {
			return ctx.JSON(http.StatusOK, &meta.JSONResult{
				Code:  failed,
				Value: err.Error(),
			})
		}

		result := meta.IngestResult{
			Collection: c.Name,
			Token:      fmt.Sprintf("%x", token),
		}

		var stamped [][]byte
		for _, doc := range docs {
			parts := s.nextUUIDParts()
			value, err := shuffle.StampDocument(doc, parts, token)
			if err != nil {
				return ctx.JSON(http.StatusOK, &meta.JSONResult{
					Code:  failed,
					Value: err.Error(),
				})
			}

			stamped = append(stamped, value)
			result.UUIDs = append(result.UUIDs, parts.UUID().String())
		}

		offset, err := s.journals.Append(c.JournalName(), stamped...)
		if err != nil {
			return ctx.JSON(http.StatusOK, &meta.JSONResult{
				Code:  failed,
				Value: err.Error(),
			})
		}

		result.Offset = offset
		return ctx.JSON(http.StatusOK, &meta.JSONResult{
			Value: result,
		})
	}
}

// splitDocuments accepts either one JSON document or a JSON array of
// documents
func splitDocuments(data []byte) ([][]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] != '[' {
		return [][]byte{trimmed}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, err
	}

	docs := make([][]byte, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, []byte(raw))
	}

	return docs, nil
}

func (s *Server) readDocuments() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		c, ok := s.cfg.Catalog.Collection(ctx.Param("name"))
		if !ok {
			return ctx.NoContent(http.StatusNotFound)
		}

		offset := int64(0)
		if value := ctx.QueryParam("offset"); value != "" {
			parsed, err := format.ParseStrInt64(value)
			if err != nil {
				return ctx.NoContent(http.StatusBadRequest)
			}
			offset = parsed
		}

		limit := defaultLimit
		if value := ctx.QueryParam("limit"); value != "" {
			parsed, err := format.ParseStrInt(value)
			if err != nil {
				return ctx.NoContent(http.StatusBadRequest)
			}
			limit = parsed
		}

		docs, next, err := s.journals.Read(c.JournalName(), offset, limit)
		if err != nil {
			return ctx.JSON(http.StatusOK, &meta.JSONResult{
				Code:  failed,
				Value: err.Error(),
			})
		}

		result := meta.ReadResult{Next: next}
		for _, doc := range docs {
			result.Documents = append(result.Documents, json.RawMessage(doc))
		}

		return ctx.JSON(http.StatusOK, &meta.JSONResult{
			Value: result,
		})
	}
}

func (s *Server) states() func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		result := meta.JSONResult{}
		value, err := s.shards.States(ctx.Param("name"))
		result.Value = value
		if err != nil {
			result.Code = failed
			result.Value = err.Error()
		}

		return ctx.JSON(http.StatusOK, result)
	}
}

func (s *Server) manual(action meta.ManualAction) func(ctx echo.Context) error {
	return func(ctx echo.Context) error {
		result := meta.JSONResult{}
		err := s.shards.Manual(meta.Manual{
			Derivation: ctx.Param("name"),
			Transform:  ctx.Param("transform"),
			Action:     action,
		})
		if err != nil {
			result.Code = failed
			result.Value = err.Error()
		}

		return ctx.JSON(http.StatusOK, result)
	}
}
