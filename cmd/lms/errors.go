// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"

	lmserrors "github.com/kraklabs/lms/internal/errors"
	"github.com/kraklabs/lms/pkg/cluster"
)

// mapError turns any operation error into the RPC failure envelope. Most
// operations already return a *lmserrors.Error, which ToEnvelope handles
// directly; cluster.ErrInsufficientData is a plain sentinel outside that
// hierarchy, so it is special-cased here before falling through.
func mapError(err error) lmserrors.Envelope {
	if errors.Is(err, cluster.ErrInsufficientData) {
		return lmserrors.ToEnvelope(lmserrors.InsufficientData(err.Error()))
	}
	return lmserrors.ToEnvelope(err)
}
