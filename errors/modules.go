/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package errors

// Each inspection engine owns a disjoint range of error codes so that a
// CodeError value alone identifies its origin package without needing the
// Go type. Ranges leave headroom for engines to grow without colliding.
const (
	MinPkgCertificate = 300
	MinPkgHttpCli     = 1200
	MinPkgHttpServer  = 1300
	MinPkgIOUtils     = 1400
	MinPkgLogger      = 1600

	MinPkgTaskCtx    = 4100
	MinPkgIOLimit    = 4200
	MinPkgFraming    = 4300
	MinPkgHttpBody   = 4400
	MinPkgCertMint   = 4500
	MinPkgTLSAdaptor = 4600
	MinPkgSniffer    = 4700
	MinPkgHttpD1     = 4800
	MinPkgHttpD2     = 4900
	MinPkgImap       = 5000
	MinPkgThriftMux  = 5100
	MinPkgWSEngine   = 5200
	MinPkgQuicInit   = 5300
	MinPkgIcapClient = 5400
	MinPkgTransit    = 5500
	MinPkgResolver   = 5600
	MinPkgUpstream   = 5700

	MinAvailable = 6000
)
