// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ldget serves the LD query API on App Engine.  Requests must carry
// an OAuth2 bearer token, which is forwarded to Cloud Storage.
package ldget

import (
	"net/http"
	"os"
	"strings"

	"google.golang.org/appengine"

	"github.com/googlegenomics/ldget/api"
	"github.com/googlegenomics/ldget/reader"
)

func init() {
	mux := http.NewServeMux()
	server := api.NewServer(newAppEngineClient, reader.Options{BlockSize: 512 * 1024})
	if list := os.Getenv("BUCKET_WHITELIST"); list != "" {
		server.Whitelist(strings.Split(list, ","))
	}
	server.Export(mux)
	http.HandleFunc("/", mux.ServeHTTP)
}

func newAppEngineClient(req *http.Request) (api.Client, error) {
	return api.NewClientFromBearerToken(req.WithContext(appengine.NewContext(req)))
}
