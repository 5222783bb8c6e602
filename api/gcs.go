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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/googlegenomics/ldget/internal/fetch"
	"github.com/googlegenomics/ldget/reader"
)

// GCSClient is Client for accessing Google Cloud Storage.
type GCSClient struct {
	*storage.Client
}

// NewObjectHandle returns a handle to a specified object in the
// storage engine.
func (c GCSClient) NewObjectHandle(bucket, object string) ObjectHandle {
	return fetch.GCSObject{ObjectHandle: c.Bucket(bucket).Object(object)}
}

type sharedClient struct {
	once   sync.Once
	client *storage.Client
	err    error
}

func (s *sharedClient) get(opts ...option.ClientOption) (Client, error) {
	s.once.Do(func() {
		s.client, s.err = storage.NewClient(context.Background(), opts...)
	})
	if s.err != nil {
		return nil, fmt.Errorf("creating storage client: %w", s.err)
	}
	return GCSClient{s.client}, nil
}

var defaultClient, publicClient sharedClient

// NewDefaultClient returns a storage client that uses the application default
// credentials.  The client is shared by all requests.
func NewDefaultClient(_ *http.Request) (Client, error) {
	return defaultClient.get()
}

// NewPublicClient returns a storage client that does not use any form of
// client authorization.  It can only be used to read publicly-readable
// objects.  The client is shared by all requests.
func NewPublicClient(_ *http.Request) (Client, error) {
	return publicClient.get(option.WithHTTPClient(http.DefaultClient))
}

// NewClientFromBearerToken constructs a storage client that uses the OAuth2
// bearer token found in req to make storage requests.
func NewClientFromBearerToken(req *http.Request) (Client, error) {
	fields := strings.Split(req.Header.Get("Authorization"), " ")
	if len(fields) != 2 || fields[0] != "Bearer" {
		return nil, errMissingOrInvalidToken
	}

	token := oauth2.Token{
		TokenType:   fields[0],
		AccessToken: fields[1],
	}
	client, err := storage.NewClient(req.Context(), option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, fmt.Errorf("creating client with token source: %w", err)
	}
	return GCSClient{client}, nil
}

// newStorageError maps failures of the storage layer, possibly wrapped by the
// reader and fetcher, to API errors.  Other errors are returned unchanged.
func newStorageError(context string, err error) error {
	if errors.Is(err, errMissingOrInvalidToken) {
		return newPermissionDeniedError(context, err)
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return newNotFoundError("object does not exist", err)
	}
	if errors.Is(err, reader.ErrEmptyFile) {
		return newNotFoundError("object is empty", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return newInvalidAuthenticationError(context, err)
		case http.StatusForbidden:
			return newPermissionDeniedError(context, err)
		case http.StatusNotFound:
			return newNotFoundError(context, err)
		}
	}
	return err
}
