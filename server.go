package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/gorilla/mux"
	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
)

// maxUploadBytes bounds request bodies; the largest STX images are a few MB.
const maxUploadBytes = 32 << 20

type server struct {
	cfg Config
	log *loggy.Logger
}

func newRouter(cfg Config) *mux.Router {
	s := &server{cfg: cfg, log: loggy.Get(0)}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/formats", s.handleFormats).Methods(http.MethodGet)
	v1.HandleFunc("/identify", s.handleIdentify).Methods(http.MethodPost)
	v1.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	v1.HandleFunc("/regions/{name}", s.handleRegion).Methods(http.MethodPost)
	return r
}

func serve(cfg Config, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           newRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	loggy.Get(0).Logf("Listening on %s", listen)
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// writeFailure maps a decode or extract error onto a status code.
func writeFailure(w http.ResponseWriter, err error, attempts []disk.Attempt) {
	status := http.StatusInternalServerError
	kind := disk.KindOf(err)
	switch kind {
	case disk.KindInvalidSelection:
		status = http.StatusBadRequest
	case disk.KindStructuralMismatch, disk.KindTruncatedInput, disk.KindChecksumMismatch, disk.KindUnknownFormat:
		status = http.StatusUnprocessableEntity
	}

	body := ordereddict.NewDict().
		Set("error", err.Error()).
		Set("kind", kind.String()).
		Set("offset", disk.OffsetOf(err))
	if len(attempts) > 0 {
		var list []*ordereddict.Dict
		for _, a := range attempts {
			ad := ordereddict.NewDict().
				Set("format", a.Format.String()).
				Set("state", a.State.String())
			if a.Err != nil {
				ad.Set("error", a.Err.Error())
			}
			list = append(list, ad)
		}
		body.Set("attempts", list)
	}
	writeJSON(w, status, body)
}

func (s *server) readImage(r *http.Request) (*disk.DiskImage, []disk.Attempt, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		return nil, nil, err
	}
	if len(raw) > maxUploadBytes {
		return nil, nil, fmt.Errorf("image larger than %d bytes", maxUploadBytes)
	}

	opts, err := s.cfg.Options(0)
	if err != nil {
		return nil, nil, err
	}
	if v := r.URL.Query().Get("ignore_checksums"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			opts.Policy = disk.ChecksumsIgnored
		}
	}

	if f := r.URL.Query().Get("format"); f != "" {
		format, err := disk.ParseFormat(f)
		if err != nil {
			return nil, nil, err
		}
		img, err := disk.Decode(format, raw, opts)
		return img, nil, err
	}
	return disk.IdentifyAttempts(raw, opts)
}

func (s *server) handleFormats(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, f := range disk.Formats() {
		names = append(names, f.String())
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	img, attempts, err := s.readImage(r)
	if err != nil {
		s.log.Errorf("identify: %s", err)
		writeFailure(w, err, attempts)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	d := newDiskRecord(name, img)
	d.FullPath = name
	writeJSON(w, http.StatusOK, infoDict(d))
}

func (s *server) sendExtract(w http.ResponseWriter, img *disk.DiskImage, sel disk.Selection) {
	data, err := disk.Extract(img, sel)
	if err != nil {
		writeFailure(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Image-Format", img.Format.String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	sel, err := querySelection(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ordereddict.NewDict().Set("error", err.Error()))
		return
	}
	img, attempts, err := s.readImage(r)
	if err != nil {
		writeFailure(w, err, attempts)
		return
	}
	s.sendExtract(w, img, sel)
}

func (s *server) handleRegion(w http.ResponseWriter, r *http.Request) {
	img, attempts, err := s.readImage(r)
	if err != nil {
		writeFailure(w, err, attempts)
		return
	}
	s.sendExtract(w, img, disk.SelectRegion(mux.Vars(r)["name"]))
}

// querySelection reads the same selection the extract command takes from
// the query string.
func querySelection(r *http.Request) (disk.Selection, error) {
	q := r.URL.Query()
	f := selectionFlags{
		tracks:  q.Get("tracks"),
		track:   -1,
		side:    -1,
		sectors: q.Get("sectors"),
		region:  q.Get("region"),
	}
	for name, dst := range map[string]*int{"track": &f.track, "side": &f.side} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return disk.Selection{}, fmt.Errorf("bad %s %q", name, v)
			}
			*dst = n
		}
	}
	return f.selection()
}
