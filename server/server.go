package server

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/OdyseeTeam/blockjson/blockjson"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// request bodies larger than this are rejected. it is well above any real
// block, even hex encoded.
const maxBodySize = 64 << 20

type rawResponse struct {
	Hash string `json:"hash"`
	Hex  string `json:"hex"`
	Size int    `json:"size"`
}

// Start serves the codec on addr in the background.
func Start(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Error(err)
		}
	}()
	return srv
}

func Handler() http.Handler {
	httpServeMux := http.NewServeMux()
	httpServeMux.Handle("/block/raw", post(toRaw))
	httpServeMux.Handle("/block/json", post(toJSON))
	return httpServeMux
}

func post(fn func(body []byte) (interface{}, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) > maxBodySize {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		res, err := fn(body)
		if err != nil {
			status := http.StatusInternalServerError
			if blockjson.IsFormatError(err) {
				status = http.StatusBadRequest
			} else {
				logrus.Errorf("%s: %+v", r.URL.Path, err)
			}
			http.Error(w, err.Error(), status)
			return
		}

		b, err := json.Marshal(res)
		if err != nil {
			logrus.Errorf("%+v", errors.WithStack(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			logrus.Debugf("writing response: %v", err)
		}
	})
}

func toRaw(body []byte) (interface{}, error) {
	raw, err := blockjson.BlockBytesFromJSON(body)
	if err != nil {
		return nil, err
	}
	block, err := blockjson.FromWire(raw)
	if err != nil {
		return nil, err
	}
	return rawResponse{Hash: block.Hash().String(), Hex: hex.EncodeToString(raw), Size: len(raw)}, nil
}

func toJSON(body []byte) (interface{}, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, &blockjson.FormatError{Err: blockjson.ErrMalformedHex, Detail: err.Error()}
	}
	block, err := blockjson.FromWire(raw)
	if err != nil {
		return nil, err
	}

	doc, err := blockjson.ToJSON(block)
	if err != nil {
		// the bytes parsed but a script in them can't be shown
		return nil, errors.Mark(err, blockjson.ErrProtocol)
	}
	return doc, nil
}
